package domain

import (
	"fmt"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// MinExpiryMargin é a folga mínima aplicada após o fim do dia antes que um
// contador possa ser recolhido (tolera diferença de relógio/fuso).
const MinExpiryMargin = time.Hour

// Date é uma data civil (sem hora e sem fuso).
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate aceita "YYYY-MM-DD" ou um timestamp RFC 3339 (usa a parte de data).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil && len(s) > len(dateLayout) {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf retorna a data civil de t no fuso do próprio t.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Start é a meia-noite que abre o dia em loc.
func (d Date) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// EndOfDay é a meia-noite seguinte em loc.
func (d Date) EndOfDay(loc *time.Location) time.Time {
	return d.Start(loc).AddDate(0, 0, 1)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Key identifica um pool de capacidade: um recurso (médico em um hospital) em uma data.
type Key struct {
	ResourceID int64
	Date       Date
}

func NewKey(resourceID int64, date Date) Key {
	return Key{ResourceID: resourceID, Date: date}
}

func (k Key) String() string {
	return strconv.FormatInt(k.ResourceID, 10) + ":" + k.Date.String()
}

// CounterExpiry calcula até quando o contador da data precisa sobreviver:
// fim do dia + margem (no mínimo MinExpiryMargin). Se esse instante já estiver
// próximo demais de now (data passada ou quase encerrada), usa now+24h.
func CounterExpiry(date Date, now time.Time, loc *time.Location, margin time.Duration) time.Time {
	if margin < MinExpiryMargin {
		margin = MinExpiryMargin
	}
	at := date.EndOfDay(loc).Add(margin)
	if at.Before(now.Add(margin)) {
		return now.Add(24 * time.Hour)
	}
	return at
}
