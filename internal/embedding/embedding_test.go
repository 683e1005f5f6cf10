package embedding

import (
	"errors"
	"testing"

	"github.com/aurorafeed/broadcast-core/internal/jobkind"
)

func TestClassifyEmbedError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"rate limited", errors.New("googleapi: Error 429: quota exceeded"), jobkind.CodeRateLimited},
		{"model loading", errors.New("googleapi: Error 503: model is loading"), jobkind.CodeModelLoading},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyEmbedError(tc.err)
			var kindErr *jobkind.Error
			if !errors.As(got, &kindErr) {
				t.Fatalf("expected a jobkind.Error, got %T", got)
			}
			if kindErr.Code != tc.code {
				t.Errorf("expected code %q, got %q", tc.code, kindErr.Code)
			}
			if kindErr.Kind != jobkind.KindSemantic {
				t.Errorf("expected semantic kind, got %s", kindErr.Kind)
			}
		})
	}
}

func TestClassifyEmbedErrorDefaultsTransient(t *testing.T) {
	got := classifyEmbedError(errors.New("connection reset by peer"))
	var kindErr *jobkind.Error
	if !errors.As(got, &kindErr) {
		t.Fatalf("expected a jobkind.Error, got %T", got)
	}
	if kindErr.Kind != jobkind.KindTransient {
		t.Errorf("expected transient kind, got %s", kindErr.Kind)
	}
}
