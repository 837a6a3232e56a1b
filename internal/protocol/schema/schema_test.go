package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/testutil/testlog"
)

func TestValidateInitializationRequiresExactlyOneEntry(t *testing.T) {
	testlog.Start(t)
	ok := protocol.NewPacket(protocol.TypeInitialization, "", "", protocol.NewPayload("0", "6001"))
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid init: %v", err)
	}
	two := protocol.NewPacket(protocol.TypeInitialization, "", "", protocol.NewPayload("0", "6001", "1", "6002"))
	var vErr ValidationError
	if err := Validate(two); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateEmptyPayloadPermissions(t *testing.T) {
	testlog.Start(t)
	for _, pt := range []protocol.PacketType{protocol.TypeKeepAlive, protocol.TypeAck, protocol.TypePeerListReq} {
		if !AllowsEmpty(pt) {
			t.Fatalf("%s should allow empty payload", pt)
		}
		if err := Validate(protocol.NewPacket(pt, "p", "c", protocol.Payload{})); err != nil {
			t.Fatalf("%s empty payload rejected: %v", pt, err)
		}
	}
	for _, pt := range []protocol.PacketType{protocol.TypeInitialization, protocol.TypeMessage, protocol.TypeError} {
		if AllowsEmpty(pt) {
			t.Fatalf("%s should not allow empty payload", pt)
		}
		if err := Validate(protocol.NewPacket(pt, "p", "c", protocol.Payload{})); err == nil {
			t.Fatalf("%s empty payload accepted", pt)
		}
	}
}

func TestValidateInitializationResRequiresID(t *testing.T) {
	testlog.Start(t)
	res := protocol.NewPacket(protocol.TypeInitializationRes, "coord", "c", protocol.NewPayload(KeyClusterID, "c"))
	var vErr ValidationError
	if err := Validate(res); !errors.As(err, &vErr) || vErr.Key != KeyID {
		t.Fatalf("expected missing id error, got %v", err)
	}
	res = protocol.NewPacket(protocol.TypeInitializationRes, "coord", "c", protocol.NewPayload(KeyID, "peer.1"))
	if err := Validate(res); err != nil {
		t.Fatalf("expected valid res: %v", err)
	}
}

func TestValidateUnknownType(t *testing.T) {
	testlog.Start(t)
	if err := Validate(protocol.Packet{Type: "HELLO"}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
