package hl7

import (
	"fmt"
	"strings"
	"time"
)

const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// CreateACK builds an MLLP framed acknowledgement for original. If original
// cannot be parsed, the ACK uses default delimiters and no correlation ids.
func CreateACK(original []byte, code, text string) []byte {
	d := DefaultDelimiters
	var sendingApp, sendingFacility, trigger, controlID, version string

	if msg, err := Parse(original); err == nil {
		d = msg.Delimiters
		header := msg.Header()
		sendingApp = header.Field(3).Raw()
		sendingFacility = header.Field(4).Raw()
		trigger = msg.Trigger
		controlID = msg.ControlID
		version = msg.Version
	}
	if version == "" {
		version = "2.5"
	}

	ackID := controlID
	if ackID == "" {
		ackID = fmt.Sprintf("%d", time.Now().UnixNano())
	}

	f := string(d.Field)
	c := string(d.Component)
	msh := strings.Join([]string{
		"MSH", d.Encoding(), "ADT_TO_FHIR", "DIZ", sendingApp, sendingFacility,
		time.Now().Format("20060102150405"), "",
		"ACK" + c + trigger + c + "ACK",
		"ACK" + ackID, "P", version,
	}, f)
	msa := strings.Join([]string{"MSA", code, escape(controlID, &d), escape(text, &d)}, f)

	return WrapMLLP([]byte(msh + "\r" + msa + "\r"))
}

// AckCode returns MSA-1 of an acknowledgement message.
func AckCode(ack []byte) (string, error) {
	msg, err := Parse(ack)
	if err != nil {
		return "", err
	}
	msa := msg.Segment("MSA", 0)
	if !msa.Present() {
		return "", fmt.Errorf("acknowledgement without MSA segment")
	}
	return msa.Field(1).Value(), nil
}
