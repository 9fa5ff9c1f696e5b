package crdt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidHLC is returned when a stamp cannot be parsed.
var ErrInvalidHLC = errors.New("invalid hlc stamp")

// WallClock возвращает текущее физическое время. Подменяется в тестах.
type WallClock func() time.Time

// Timestamp is a decoded hybrid logical clock stamp.
type Timestamp struct {
	DeviceID string
	Wall     int64 // миллисекунды unix
	Counter  int64
}

// String renders the stamp in its lexicographically comparable form:
// zero-padded wall milliseconds, zero-padded counter, device id.
func (ts Timestamp) String() string {
	return fmt.Sprintf("%015d:%010d:%s", ts.Wall, ts.Counter, ts.DeviceID)
}

// ParseHLC decodes a stamp produced by HLC.Generate.
func ParseHLC(stamp string) (Timestamp, error) {
	parts := strings.SplitN(stamp, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidHLC, stamp)
	}

	wall, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: wall: %v", ErrInvalidHLC, err)
	}
	counter, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: counter: %v", ErrInvalidHLC, err)
	}

	return Timestamp{Wall: wall, Counter: counter, DeviceID: parts[2]}, nil
}

// CompareHLC compares two stamps. Stamps are fixed-width, so plain string
// comparison gives the causal order.
func CompareHLC(a, b string) int {
	return strings.Compare(a, b)
}

// HLC представляет гибридные логические часы: физическое время в миллисекундах,
// логический счетчик и идентификатор устройства. Каждый сгенерированный штамп
// строго больше предыдущего, даже если системное время идет назад.
type HLC struct {
	now      WallClock  // источник физического времени
	deviceID string     // стабильный идентификатор устройства
	wall     int64      // последнее использованное физическое время
	counter  int64      // логический счетчик внутри одной миллисекунды
	mu       sync.Mutex // мьютекс для потокобезопасности
}

// NewHLC creates a clock for the given device. A nil wall clock means time.Now.
func NewHLC(deviceID string, now WallClock) *HLC {
	if now == nil {
		now = time.Now
	}
	return &HLC{
		now:      now,
		deviceID: deviceID,
	}
}

// Generate returns a new stamp strictly greater than every stamp this clock
// has generated or observed.
func (h *HLC) Generate() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	pt := h.now().UnixMilli()
	if pt > h.wall {
		h.wall = pt
		h.counter = 0
	} else {
		// физическое время не продвинулось (или ушло назад) - растим счетчик
		h.counter++
	}

	return Timestamp{Wall: h.wall, Counter: h.counter, DeviceID: h.deviceID}.String()
}

// Observe advances the clock past a stamp received from another device.
// Используется при применении удаленных изменений.
func (h *HLC) Observe(stamp string) error {
	ts, err := ParseHLC(stamp)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.advance(ts)
	return nil
}

// Restore seeds the clock from the last persisted stamp after a restart.
// An empty stamp is ignored.
func (h *HLC) Restore(last string) error {
	if last == "" {
		return nil
	}
	return h.Observe(last)
}

// Last returns the most recent stamp state without advancing the clock.
func (h *HLC) Last() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Timestamp{Wall: h.wall, Counter: h.counter, DeviceID: h.deviceID}.String()
}

// DeviceID возвращает идентификатор устройства.
func (h *HLC) DeviceID() string {
	return h.deviceID
}

// Reset returns the clock to its zero state. Used by tests and after the
// local store is wiped.
func (h *HLC) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.wall = 0
	h.counter = 0
}

func (h *HLC) advance(ts Timestamp) {
	switch {
	case ts.Wall > h.wall:
		h.wall = ts.Wall
		h.counter = ts.Counter
	case ts.Wall == h.wall && ts.Counter > h.counter:
		h.counter = ts.Counter
	}
}
