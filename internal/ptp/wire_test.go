package ptp

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	want := Header{
		MessageType:        MsgSync,
		MessageLength:      44,
		DomainNumber:       0,
		Flags:              twoStepFlag,
		SourcePortIdentity: PortIdentity{Clock: ClockIdentity{1, 2, 3, 4, 5, 6, 7, 8}, Number: 1},
		SequenceID:         42,
		ControlField:       0,
		LogMessageInterval: 0,
	}

	buf, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != headerSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), headerSize)
	}

	var got Header
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.MessageType != want.MessageType {
		t.Errorf("MessageType = %v, want %v", got.MessageType, want.MessageType)
	}
	if got.SequenceID != want.SequenceID {
		t.Errorf("SequenceID = %v, want %v", got.SequenceID, want.SequenceID)
	}
	if got.Flags != want.Flags {
		t.Errorf("Flags = %v, want %v", got.Flags, want.Flags)
	}
	if got.SourcePortIdentity != want.SourcePortIdentity {
		t.Errorf("SourcePortIdentity = %+v, want %+v", got.SourcePortIdentity, want.SourcePortIdentity)
	}
}

func TestUnmarshalBinaryRejectsShortInput(t *testing.T) {
	var h Header
	if err := h.UnmarshalBinary(make([]byte, headerSize-1)); err == nil {
		t.Fatal("expected an error for a short header buffer")
	}
}

func TestSyncMessageIsFortyFourBytes(t *testing.T) {
	source := PortIdentity{Clock: ClockIdentity{9, 9, 9, 9, 9, 9, 9, 9}, Number: 1}
	msg := syncMessage(0, source, 7)
	if len(msg) != 44 {
		t.Fatalf("len(Sync) = %d, want 44", len(msg))
	}

	var hdr Header
	if err := hdr.UnmarshalBinary(msg[:headerSize]); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if hdr.MessageType != MsgSync {
		t.Errorf("MessageType = %v, want MsgSync", hdr.MessageType)
	}
	if hdr.Flags&twoStepFlag == 0 {
		t.Error("Sync must signal the two-step flag")
	}
}

func TestFollowUpCarriesOriginTimestamp(t *testing.T) {
	source := PortIdentity{Clock: ClockIdentity{1}, Number: 1}
	origin := Timestamp{Seconds: 123456789, Nanoseconds: 42}
	msg := followUpMessage(0, source, 7, origin)

	got := parseTimestamp(msg[headerSize:])
	if got != origin {
		t.Errorf("parsed timestamp = %+v, want %+v", got, origin)
	}
}

func TestDelayRespEchoesRequestorIdentity(t *testing.T) {
	source := PortIdentity{Clock: ClockIdentity{1}, Number: 1}
	requestor := PortIdentity{Clock: ClockIdentity{5, 4, 3, 2, 1}, Number: 3}
	recv := Timestamp{Seconds: 10, Nanoseconds: 20}

	msg := delayRespMessage(0, source, 5, recv, requestor)

	var hdr Header
	if err := hdr.UnmarshalBinary(msg[:headerSize]); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if hdr.SequenceID != 5 {
		t.Errorf("SequenceID = %d, want 5 (echoed from the request)", hdr.SequenceID)
	}

	gotRequestorClock := msg[headerSize+10 : headerSize+18]
	if !bytes.Equal(gotRequestorClock, requestor.Clock[:]) {
		t.Error("Delay_Resp did not echo the requestor's clock identity")
	}
}
