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
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor("/?limit=24&offset=10")
	if p.Limit != 24 {
		t.Errorf("expected limit 24, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := paramsFor("/?limit=10000")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := paramsFor("/?offset=-5")
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 10, 2, 0)
	if resp.Total != 10 {
		t.Errorf("expected total 10, got %d", resp.Total)
	}
	if !resp.HasMore {
		t.Error("expected has_more true")
	}

	last := NewResponse([]string{"a"}, 3, 2, 2)
	if last.HasMore {
		t.Error("expected has_more false on last page")
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	tests := []struct {
		offset, limit, want int
	}{
		{0, 20, 0},
		{10, 20, 0},
		{40, 20, 20},
	}
	for _, tt := range tests {
		p := Params{Limit: tt.limit, Offset: tt.offset}
		if got := p.PreviousOffset(); got != tt.want {
			t.Errorf("PreviousOffset(offset=%d, limit=%d) = %d, want %d", tt.offset, tt.limit, got, tt.want)
		}
	}
}

func TestParams_Links_MiddlePage(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	links := p.Links("/entries", 30)
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}
	if links[0].Relation != "self" || links[0].URL != "/entries?offset=10&limit=10" {
		t.Errorf("unexpected self link: %+v", links[0])
	}
	if links[1].Relation != "next" || links[1].URL != "/entries?offset=20&limit=10" {
		t.Errorf("unexpected next link: %+v", links[1])
	}
	if links[2].Relation != "previous" || links[2].URL != "/entries?offset=0&limit=10" {
		t.Errorf("unexpected previous link: %+v", links[2])
	}
}

func TestParams_Links_SinglePage(t *testing.T) {
	links := Params{Limit: 50, Offset: 0}.Links("/entries", 5)
	if len(links) != 1 {
		t.Fatalf("expected only self link, got %d", len(links))
	}
}

func TestResponse_WithLinks(t *testing.T) {
	resp := NewResponse([]int{1}, 2, 1, 0).WithLinks("/x")
	if len(resp.Links) != 2 {
		t.Errorf("expected self and next links, got %d", len(resp.Links))
	}
}
