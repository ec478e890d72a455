// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds configuration structs to flags using field tags.
package cfgstruct

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
)

// Error is the default cfgstruct errs class.
var Error = errs.Class("cfgstruct")

// Bind registers flags for every tagged leaf field of config.
//
// Flag names are the dotted lower-case path of the struct fields, e.g.
// Outbox.MaxAttempts becomes outbox.max-attempts. Defaults come from the
// `default` tag, usage text from the `help` tag.
func Bind(flags *pflag.FlagSet, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(Error.New("expected pointer to struct, got %T", config))
	}
	bindStruct(flags, ptr.Elem(), "")
}

func bindStruct(flags *pflag.FlagSet, value reflect.Value, prefix string) {
	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldValue := value.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := prefix + hyphenate(field.Name)
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindStruct(flags, fieldValue, name+".")
			continue
		}

		help := field.Tag.Get("help")
		def := field.Tag.Get("default")
		bindField(flags, fieldValue, name, def, help)
	}
}

func bindField(flags *pflag.FlagSet, value reflect.Value, name, def, help string) {
	if !value.CanAddr() {
		panic(Error.New("field %s is not addressable", name))
	}
	addr := value.Addr().Interface()

	switch ptr := addr.(type) {
	case *string:
		flags.StringVar(ptr, name, def, help)
	case *bool:
		flags.BoolVar(ptr, name, parseBool(name, def), help)
	case *int:
		flags.IntVar(ptr, name, int(parseInt(name, def)), help)
	case *int64:
		flags.Int64Var(ptr, name, parseInt(name, def), help)
	case *float64:
		flags.Float64Var(ptr, name, parseFloat(name, def), help)
	case *time.Duration:
		flags.DurationVar(ptr, name, parseDuration(name, def), help)
	case *[]string:
		var defs []string
		if def != "" {
			defs = strings.Split(def, ",")
		}
		flags.StringSliceVar(ptr, name, defs, help)
	default:
		panic(Error.New("unsupported field type %T for %s", addr, name))
	}
}

func parseBool(name, def string) bool {
	if def == "" {
		return false
	}
	v, err := strconv.ParseBool(def)
	mustParse(name, err)
	return v
}

func parseInt(name, def string) int64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseInt(def, 10, 64)
	mustParse(name, err)
	return v
}

func parseFloat(name, def string) float64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseFloat(def, 64)
	mustParse(name, err)
	return v
}

func parseDuration(name, def string) time.Duration {
	if def == "" {
		return 0
	}
	v, err := time.ParseDuration(def)
	mustParse(name, err)
	return v
}

func mustParse(name string, err error) {
	if err != nil {
		panic(Error.New("invalid default for %s: %v", name, err))
	}
}

func hyphenate(field string) string {
	var out strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			lower := r - 'A' + 'a'
			if i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z') {
				out.WriteRune('-')
			}
			out.WriteRune(lower)
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
