package postgres

import (
	"reflect"
	"testing"

	"github.com/vietddude/mediagate/internal/infra/structured"
)

func TestBuildWhereNumbersPlaceholders(t *testing.T) {
	where, args := buildWhere([]structured.Predicate{
		structured.Eq("status", "pending"),
		structured.In("job_type", "transcode", "thumbnail"),
	}, 3)

	want := " WHERE status = $3 AND job_type IN ($4, $5)"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if !reflect.DeepEqual(args, []any{"pending", "transcode", "thumbnail"}) {
		t.Errorf("args = %#v", args)
	}
}

func TestBuildWhereEmpty(t *testing.T) {
	where, args := buildWhere(nil, 1)
	if where != "" || args != nil {
		t.Errorf("expected empty clause, got %q / %#v", where, args)
	}
}
