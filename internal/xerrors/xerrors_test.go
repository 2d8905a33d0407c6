package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

func TestNew_ErrorMessage(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_StackContainsCaller(t *testing.T) {
	err := New("test")

	var hs hasStack
	if !errors.As(err, &hs) {
		t.Fatal("New error should carry a stack")
	}
	if !stackContains(hs.StackPCs(), "TestNew_StackContainsCaller") {
		t.Fatal("stack should contain calling function")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("port %d in use", 3000)
	if err.Error() != "port 3000 in use" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "load session")
	if err.Error() != "load session: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel through Wrap")
	}
}

func TestWrap_PCPointsAtCaller(t *testing.T) {
	err := Wrapf(errSentinel, "op %s", "get")

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf error should expose PC")
	}
	fn := runtime.FuncForPC(hp.PC())
	if fn == nil || !strings.Contains(fn.Name(), "TestWrap_PCPointsAtCaller") {
		t.Fatalf("PC resolves to %v, want test function", fn)
	}
}

func TestEnsureTrace_AddsStackOnce(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}

	first := EnsureTrace(errSentinel)
	var hs hasStack
	if !errors.As(first, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}

	second := EnsureTrace(first)
	if second != first {
		t.Fatal("EnsureTrace should not re-wrap an error that already has a stack")
	}
}

func TestEnsureTrace_StackedCauseIsKept(t *testing.T) {
	inner := New("inner")
	outer := fmt.Errorf("outer: %w", inner)
	if EnsureTrace(outer) != outer {
		t.Fatal("stack anywhere in chain should satisfy EnsureTrace")
	}
}

func TestHTTPError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *HTTPError
		want string
	}{
		{"explicit message", &HTTPError{Status: 403, Msg: "invalid csrf token"}, "invalid csrf token"},
		{"cause message", &HTTPError{Status: 400, Err: errSentinel}, "sentinel"},
		{"status text", &HTTPError{Status: 404}, "Not Found"},
		{"empty", &HTTPError{}, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error defaults to 500", errSentinel, http.StatusInternalServerError},
		{"not found", NotFound(), http.StatusNotFound},
		{"wrapped http error", Wrap(NewHTTP(http.StatusRequestEntityTooLarge), "parse body"), http.StatusRequestEntityTooLarge},
		{"status outside error range ignored", &HTTPError{Status: 200}, http.StatusInternalServerError},
		{"zero status ignored", &HTTPError{Code: "X"}, http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Fatalf("StatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithStatus(t *testing.T) {
	if WithStatus(nil, 400, "") != nil {
		t.Fatal("WithStatus(nil) should be nil")
	}
	err := WithStatus(errSentinel, http.StatusForbidden, CodeBadCSRFToken)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("StatusCode = %d, want 403", StatusCode(err))
	}
	if Code(err) != CodeBadCSRFToken {
		t.Fatalf("Code = %q, want %q", Code(err), CodeBadCSRFToken)
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("WithStatus should keep the cause")
	}
	if Code(errSentinel) != "" {
		t.Fatal("plain error should have no code")
	}
}
