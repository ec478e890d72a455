// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package chat is the rule-based intake conversation. Turn is a pure
// function over (state, message): it extracts structured facts from free
// text and asks for the next missing one.
package chat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/pricing"
)

// Error is the default chat errs class.
var Error = errs.Class("chat")

// State is the conversation position. It travels to the client and back
// on every turn; nothing is stored server-side.
type State struct {
	Inputs pricing.Inputs `json:"inputs"`
	Name   string         `json:"name,omitempty"`
	Phone  string         `json:"phone,omitempty"`
	Email  string         `json:"email,omitempty"`

	BedsSet  bool `json:"beds_set,omitempty"`
	BathsSet bool `json:"baths_set,omitempty"`
	Complete bool `json:"complete,omitempty"`
}

// Reply is what the turn answers with.
type Reply struct {
	Message string `json:"message"`
	// Fields lists which facts this turn extracted, for client display.
	Fields []string `json:"fields,omitempty"`
}

var (
	bedsPattern  = regexp.MustCompile(`(?i)(\d+)\s*(?:bed|bedroom|br)s?\b`)
	bathsPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:bath|bathroom|ba)s?\b`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	namePattern  = regexp.MustCompile(`(?i)(?:my name is|i am|i'm|this is)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)?)`)
)

// Turn advances the conversation by one message. The same state and
// message always produce the same result.
func Turn(state State, message string) (State, Reply) {
	var fields []string

	if match := bedsPattern.FindStringSubmatch(message); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil && n >= 0 && n <= 20 {
			state.Inputs.Beds = n
			state.BedsSet = true
			fields = append(fields, "beds")
		}
	}
	if match := bathsPattern.FindStringSubmatch(message); match != nil {
		if n, err := strconv.ParseFloat(match[1], 64); err == nil && n >= 0 && n <= 20 {
			state.Inputs.Baths = int(n)
			state.BathsSet = true
			fields = append(fields, "baths")
		}
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "deep"):
		state.Inputs.Deep = true
		state.Inputs.ServiceType = "deep"
		fields = append(fields, "service_type")
	case strings.Contains(lower, "move out"), strings.Contains(lower, "move-out"), strings.Contains(lower, "moving out"):
		state.Inputs.ServiceType = "move_out"
		fields = append(fields, "service_type")
	}
	for _, frequency := range []string{"weekly", "biweekly", "monthly"} {
		if strings.Contains(lower, frequency) {
			state.Inputs.Frequency = frequency
			fields = append(fields, "frequency")
			break
		}
	}

	if match := namePattern.FindStringSubmatch(message); match != nil {
		state.Name = match[1]
		fields = append(fields, "name")
	}
	if match := phonePattern.FindString(message); match != "" {
		state.Phone = match
		fields = append(fields, "phone")
	}
	if match := emailPattern.FindString(message); match != "" {
		state.Email = match
		fields = append(fields, "email")
	}

	reply := Reply{Fields: fields}
	switch {
	case !state.BedsSet:
		reply.Message = "How many bedrooms should we clean?"
	case !state.BathsSet:
		reply.Message = "And how many bathrooms?"
	case state.Name == "":
		reply.Message = "Great. What's your name?"
	case state.Phone == "":
		reply.Message = "What's the best phone number to reach you?"
	default:
		state.Complete = true
		reply.Message = "Thanks " + state.Name + "! We have everything we need for your quote."
	}
	return state, reply
}
