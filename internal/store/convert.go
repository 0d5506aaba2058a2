package store

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

func toUUID(id string) pgtype.UUID {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}

	return pgtype.UUID{Bytes: u, Valid: true}
}

func fromUUID(uid pgtype.UUID) string {
	if !uid.Valid {
		return ""
	}

	return uuid.UUID(uid.Bytes).String()
}

func toText(s string) pgtype.Text {
	return pgtype.Text{String: sanitizeUTF8(s), Valid: s != ""}
}

func fromText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}

	return t.String
}

// sanitizeUTF8 removes invalid UTF-8 sequences before they reach Postgres.
func sanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "")
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func toTimestamptzPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}

	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromTimestamptz(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}

	return t.Time
}

func fromTimestamptzPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}

	tm := t.Time

	return &tm
}

func toBool(b *bool) pgtype.Bool {
	if b == nil {
		return pgtype.Bool{Valid: false}
	}

	return pgtype.Bool{Bool: *b, Valid: true}
}

func fromBool(b pgtype.Bool) *bool {
	if !b.Valid {
		return nil
	}

	v := b.Bool

	return &v
}

func toJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}

func fromJSONBStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}

func fromJSONBImages(raw []byte) []Image {
	if len(raw) == 0 {
		return nil
	}

	var out []Image
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}
