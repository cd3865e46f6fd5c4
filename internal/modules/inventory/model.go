package inventory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrStockNotFound     = errors.New("no stock entry for product size")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyApplied    = errors.New("stock movement already applied")
	ErrInvalidSize       = errors.New("invalid size")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Size is a shoe size. Only whole and half sizes between MinSize and
// MaxSize exist in the catalog.
type Size float64

const (
	MinSize Size = 4
	MaxSize Size = 14
)

// Sizes lists the full size catalog in ascending order.
func Sizes() []Size {
	var out []Size
	for s := MinSize; s <= MaxSize; s += 0.5 {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is part of the size catalog.
func (s Size) Valid() bool {
	if s < MinSize || s > MaxSize {
		return false
	}
	doubled := float64(s) * 2
	return doubled == math.Trunc(doubled)
}

func (s Size) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// ParseSize parses a size such as "9" or "10.5".
func ParseSize(raw string) (Size, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, raw)
	}
	s := Size(f)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSize, s)
	}
	return s, nil
}

// SizeStock is the unit counter of one product size.
type SizeStock struct {
	Size  Size `json:"size"`
	Stock int  `json:"stock"`
}

// Line is one product size and the quantity moved out of stock.
type Line struct {
	ProductID uuid.UUID `json:"productId"`
	Size      Size      `json:"size"`
	Quantity  int       `json:"quantity"`
}

// InsufficientStockError names the product size that could not cover a
// requested quantity.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Size      Size
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s size %s: requested %d, available %d",
		e.ProductID, e.Size, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// normalize validates lines, merges duplicates and sorts them by
// (product, size) so that concurrent batches touch rows in the same order.
func normalize(lines []Line) ([]Line, error) {
	merged := make(map[[2]string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if !l.Size.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSize, l.Size)
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		k := [2]string{l.ProductID.String(), l.Size.String()}
		if i, ok := merged[k]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		merged[k] = len(out)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := compareUUID(out[i].ProductID, out[j].ProductID); c != 0 {
			return c < 0
		}
		return out[i].Size < out[j].Size
	})
	return out, nil
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
