package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Page != 1 || p.Offset != 0 {
		t.Errorf("expected page 1 offset 0, got %d/%d", p.Page, p.Offset)
	}
}

func TestFromContext_PageAndSearch(t *testing.T) {
	p := paramsFor("/?page=3&limit=10&search=%20asha%20")
	if p.Offset != 20 {
		t.Errorf("expected offset 20, got %d", p.Offset)
	}
	if p.Search != "asha" {
		t.Errorf("expected trimmed search, got %q", p.Search)
	}
}

func TestFromContext_OffsetOverridesPage(t *testing.T) {
	p := paramsFor("/?page=9&limit=10&offset=15")
	if p.Offset != 15 || p.Page != 2 {
		t.Errorf("expected offset 15 page 2, got %d/%d", p.Offset, p.Page)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	if p := paramsFor("/?limit=500"); p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p := paramsFor("/?limit=-1&page=-4"); p.Limit != DefaultLimit || p.Page != 1 {
		t.Errorf("expected defaults for negative input, got %+v", p)
	}
}

func TestNewResponse(t *testing.T) {
	p := Params{Page: 1, Limit: 10, Offset: 0}
	r := NewResponse([]string{"a"}, 25, p)
	if !r.HasMore || r.Total != 25 {
		t.Errorf("unexpected response %+v", r)
	}
	r = NewResponse(nil, 10, p)
	if r.HasMore {
		t.Error("expected no more pages")
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{Params{Limit: 10, Offset: 40}, 25, 25, 25},
	}
	for _, tt := range tests {
		s, e := tt.p.Window(tt.n)
		if s != tt.start || e != tt.end {
			t.Errorf("Window(%d) with %+v = [%d,%d), want [%d,%d)", tt.n, tt.p, s, e, tt.start, tt.end)
		}
	}
}
