// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_twilio_telephony

import (
	"encoding/xml"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/rapidaai/voice-bridge/config"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// =============================================================================
// TwiML answer document
// =============================================================================

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// AnswerDocument renders the TwiML that connects an answered call to the
// media stream endpoint.
func AnswerDocument(streamURL, greeting string) ([]byte, error) {
	doc := twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}},
	}
	if greeting != "" {
		doc.Say = &twimlSay{Text: greeting}
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render answer document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// =============================================================================
// Outbound dialing
// =============================================================================

// Caller originates outbound calls through the Twilio REST API and points
// them at the bridge's answer webhook.
type Caller struct {
	logger commons.Logger
	client *twilio.RestClient
	from   string
	voice  string
}

// NewCaller builds a REST caller from the configured account credentials.
func NewCaller(logger commons.Logger, cfg config.TwilioConfig, publicBaseURL string) (*Caller, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are not configured")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Caller{
		logger: logger,
		client: client,
		from:   cfg.FromNumber,
		voice:  publicBaseURL + "/voice",
	}, nil
}

// Dial places a call to the given E.164 number. Twilio fetches the answer
// document from the bridge's /voice webhook once the callee picks up.
func (c *Caller) Dial(to string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(c.voice)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	callSID := ""
	if resp.Sid != nil {
		callSID = *resp.Sid
	}
	c.logger.Infow("Outbound call created", "to", to, "call_sid", callSID)
	return callSID, nil
}
