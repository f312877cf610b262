package core

import (
	"errors"
	"fmt"
	"testing"
)

type namedErr struct{ msg string }

func (e namedErr) Error() string     { return e.msg }
func (e namedErr) ErrorName() string { return "RangeError" }

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain", errors.New("division by zero"), "Error: division by zero"},
		{"remote", NewRemoteError(KindUnknownMethod, "no method %q", "foo"), `UnknownMethodError: no method "foo"`},
		{"named", namedErr{"index out of range"}, "RangeError: index out of range"},
		{"wrapped plain", fmt.Errorf("calling sum: %w", errors.New("boom")), "Error: calling sum: boom"},
		{"empty remote", &RemoteError{}, "Error"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatError(tt.err); got != tt.want {
				t.Errorf("FormatError = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRemoteError(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantMsg  string
	}{
		{"Error: division by zero", "Error", "division by zero"},
		{"TypeError: x is not a function", "TypeError", "x is not a function"},
		{"UnknownMethodError: no method", KindUnknownMethod, "no method"},
		{"Error", "Error", ""},
		{"something broke: badly", "Error", "something broke: badly"},
		{"plain text", "Error", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			re := ParseRemoteError(tt.in)
			if re.Name != tt.wantName || re.Message != tt.wantMsg {
				t.Errorf("ParseRemoteError(%q) = {%q %q}, want {%q %q}", tt.in, re.Name, re.Message, tt.wantName, tt.wantMsg)
			}
		})
	}
}

func TestRemoteError_Is(t *testing.T) {
	err := ParseRemoteError(FormatError(NewRemoteError(KindUnknownMethod, "no method")))
	if !errors.Is(err, ErrUnknownMethod) {
		t.Error("expected errors.Is(err, ErrUnknownMethod)")
	}
	if errors.Is(err, ErrRemote) {
		t.Error("UnknownMethodError should not match the generic Error kind")
	}
	wrapped := fmt.Errorf("parser: %w", err)
	if !errors.Is(wrapped, ErrUnknownMethod) {
		t.Error("wrapped error lost its kind")
	}
}

func TestWorkerConfigURL(t *testing.T) {
	tests := []struct {
		cfg  WorkerConfig
		want string
	}{
		{WorkerConfig{ResourceRoot: "assets/build", WorkerFileName: "parser-worker.js"}, "assets/build/parser-worker.js"},
		{WorkerConfig{ResourceRoot: "ws://localhost:9000/", WorkerFileName: "search-worker.js"}, "ws://localhost:9000/search-worker.js"},
		{WorkerConfig{WorkerFileName: "x.js"}, "x.js"},
	}
	for _, tt := range tests {
		if got := tt.cfg.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestOriginalIDs(t *testing.T) {
	id := GeneratedToOriginalID("source-12", "webpack:///src/app.js")
	if !IsOriginalID(id) {
		t.Errorf("%q should be original", id)
	}
	if IsGeneratedID(id) {
		t.Errorf("%q should not be generated", id)
	}
	if got := OriginalToGeneratedID(id); got != "source-12" {
		t.Errorf("OriginalToGeneratedID = %q, want source-12", got)
	}
	if other := GeneratedToOriginalID("source-12", "webpack:///src/other.js"); other == id {
		t.Error("different urls produced the same id")
	}
	if !IsGeneratedID("source-12") {
		t.Error("plain id should be generated")
	}
}
