package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestKindOf_ThroughWrap(t *testing.T) {
	base := E(KindDecode, "failed to decompress gz file", "/tmp/disk.img.gz", fmt.Errorf("unexpected EOF"))
	wrapped := Wrap(base, "decompress phase failed")

	if got := KindOf(wrapped); got != KindDecode {
		t.Errorf("expected kind %v, got %v", KindDecode, got)
	}
	if !stderrors.Is(wrapped, ErrDecode) {
		t.Error("expected wrapped error to match ErrDecode")
	}
	if stderrors.Is(wrapped, ErrIO) {
		t.Error("decode error must not match ErrIO")
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{E(KindIO, "failed to open xz file", "/a/b.xz", fmt.Errorf("permission denied")), "failed to open xz file: /a/b.xz: permission denied"},
		{E(KindUnsupportedFormat, "unsupported file extension: rar", "", nil), "unsupported file extension: rar"},
		{E(KindPath, "", "/", nil), "path error: /"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestKindOf_Plain(t *testing.T) {
	if got := KindOf(fmt.Errorf("plain")); got != KindUnknown {
		t.Errorf("expected unknown kind, got %v", got)
	}
}
