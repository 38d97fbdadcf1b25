package reconcile

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// ViewerColor is the background of the viewer's own chat lines.
const ViewerColor = "#eee"

const (
	hueBuckets = 24
	saturation = 0.65
	lightness  = 0.55
	chatAlpha  = 0.4
)

// ColorBook assigns each chat sender a stable background color for the
// lifetime of a session. The hue comes from a hash of the sender, so the same
// sender gets the same color across runs; two senders that hash to the same
// hue are pushed apart by probing to the next free one.
type ColorBook struct {
	mu       sync.Mutex
	whoami   string
	bySender map[string]string
	taken    map[int]bool
}

// NewColorBook creates a book in which whoami is always ViewerColor.
func NewColorBook(whoami string) *ColorBook {
	return &ColorBook{
		whoami:   whoami,
		bySender: make(map[string]string),
		taken:    make(map[int]bool),
	}
}

// Color returns sender's color, assigning one on first sight.
func (b *ColorBook) Color(sender string) string {
	if sender != "" && sender == b.whoami {
		return ViewerColor
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.bySender[sender]; ok {
		return c
	}

	bucket := hashBucket(sender)
	if len(b.taken) < hueBuckets {
		for b.taken[bucket] {
			bucket = (bucket + 1) % hueBuckets
		}
	}
	b.taken[bucket] = true

	c := bucketColor(bucket)
	b.bySender[sender] = c
	return c
}

// Len returns the number of senders seen.
func (b *ColorBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bySender)
}

func hashBucket(sender string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sender))
	return int(h.Sum32() % hueBuckets)
}

func bucketColor(bucket int) string {
	hue := float64(bucket) * (360.0 / hueBuckets)
	r, g, bl := hslToRGB(hue, saturation, lightness)
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", r, g, bl, formatAlpha(chatAlpha))
}

func formatAlpha(a float64) string {
	return fmt.Sprintf("%g", a)
}

// hslToRGB converts h in degrees, s and l in [0,1].
func hslToRGB(h, s, l float64) (int, int, int) {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	to8 := func(v float64) int { return int(math.Round((v + m) * 255)) }
	return to8(r), to8(g), to8(b)
}
