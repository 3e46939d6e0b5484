package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindFetch           ErrorKind = "fetch"
	KindScrapeStructure ErrorKind = "scrape_structure"
	KindOutOfRange      ErrorKind = "out_of_range"
	KindNormalization   ErrorKind = "normalization"
	KindPersistence     ErrorKind = "persistence"
	KindPanic           ErrorKind = "panic"
	KindUnknown         ErrorKind = "unknown"
)

// FetchError reports a network, timeout or HTTP status failure.
type FetchError struct {
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: http status %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ScrapeStructureError names a structural anchor missing from a document.
type ScrapeStructureError struct {
	Source string
	Marker string
}

func (e *ScrapeStructureError) Error() string {
	return fmt.Sprintf("scrape %s: marker %q not found", e.Source, e.Marker)
}

// OutOfRangeError rejects an implausible extracted value.
type OutOfRangeError struct {
	Source string
	Pair   string
	Value  decimal.Decimal
	Band   Band
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %s: value %s outside [%s, %s]", e.Source, e.Pair, e.Value, e.Band.Min, e.Band.Max)
}

// NormalizationError reports a payload no shape could map.
type NormalizationError struct {
	Exchange string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Exchange, e.Reason)
}

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it is nil or already one.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// PanicError carries a recovered panic from one exchange's pipeline.
type PanicError struct {
	Exchange string
	Value    string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("exchange %s panicked: %s", e.Exchange, e.Value)
}

// KindOf classifies err by walking its wrap chain outermost first. Joined
// errors report the kind of their first classifiable member, in join order.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if kind := directKind(e); kind != KindUnknown {
			return kind
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, member := range joined.Unwrap() {
				if kind := KindOf(member); kind != KindUnknown && kind != KindNone {
					return kind
				}
			}
			return KindUnknown
		}
	}
	return KindUnknown
}

func directKind(err error) ErrorKind {
	switch err.(type) {
	case *ScrapeStructureError:
		return KindScrapeStructure
	case *OutOfRangeError:
		return KindOutOfRange
	case *NormalizationError:
		return KindNormalization
	case *PersistenceError:
		return KindPersistence
	case *PanicError:
		return KindPanic
	case *FetchError:
		return KindFetch
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return KindFetch
	}
	return KindUnknown
}
