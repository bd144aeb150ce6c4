package postgres

import (
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Fatalf("expected matching up/down migrations, got %d up, %d down", up, down)
	}
}

func TestQuotaQueryUsesDollarPlaceholders(t *testing.T) {
	r := &Repo{schema: "public"}
	sqlStr, args, err := r.qb().Update(r.table("users")).
		Set("quota_used", 0).
		Set("quota_reset_on", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)).
		Where(sq.Eq{"id": "u1"}).
		ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sqlStr, "public.users") || !strings.Contains(sqlStr, "$3") || len(args) != 3 {
		t.Fatalf("unexpected sql %q args %v", sqlStr, args)
	}
}
