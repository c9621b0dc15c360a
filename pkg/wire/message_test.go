package wire

import "testing"

func TestEncodeDecodeAudio(t *testing.T) {
	b, err := Encode(NewAudioMessage("AAA="))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if m.Type != TypeAudio || m.Data != "AAA=" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestErrorOmitsData(t *testing.T) {
	b, err := Encode(NewErrorMessage("boom"))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if string(b) != `{"type":"error","error":"boom"}` {
		t.Fatalf("unexpected wire form: %s", b)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{nope")); err == nil {
		t.Fatalf("expected decode error")
	}
}
