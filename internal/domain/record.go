package domain

import (
	"errors"
	"math"
	"time"
)

// RawRecord is a single telemetry record as supplied by the data source.
type RawRecord interface {
	Shape() Shape
	Validate() error
}

// PointRecord is an instantaneous event carrying a quantity (steps, litres of water).
type PointRecord struct {
	Timestamp time.Time
	Quantity  float64
}

// Shape implements RawRecord.
func (PointRecord) Shape() Shape { return ShapePoint }

// Validate rejects negative or non-finite quantities.
func (r PointRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	return validQuantity(r.Quantity)
}

// IntervalRecord spans [Start, End). Its duration is the measured quantity;
// Quantity is carried through for sources that report one but is not summed.
type IntervalRecord struct {
	Start    time.Time
	End      time.Time
	Quantity *float64
}

// Shape implements RawRecord.
func (IntervalRecord) Shape() Shape { return ShapeInterval }

// Validate requires Start <= End.
func (r IntervalRecord) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("missing start or end")
	}
	if r.End.Before(r.Start) {
		return errors.New("interval ends before it starts")
	}
	if r.Quantity != nil {
		return validQuantity(*r.Quantity)
	}
	return nil
}

// Duration returns End - Start.
func (r IntervalRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// SampleRecord is an instantaneous measurement (heart rate in bpm).
type SampleRecord struct {
	Timestamp time.Time
	Value     float64
}

// Shape implements RawRecord.
func (SampleRecord) Shape() Shape { return ShapeSample }

// Validate rejects negative or non-finite values.
func (r SampleRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	return validQuantity(r.Value)
}

func validQuantity(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("quantity is not a finite number")
	}
	if v < 0 {
		return errors.New("negative quantity")
	}
	return nil
}
