package ephemeris

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chronos/internal/astro"
	"chronos/internal/types"
)

// Year table binary layout, little-endian, zstd-compressed as a whole object:
//
//	bytes 0..3   magic "EPH1"
//	bytes 4..7   year   uint32
//	bytes 8..11  count  uint32 (number of samples, >= 2)
//	bytes 12..15 step   uint32 (seconds between samples)
//	bytes 16..23 start  int64  (unix seconds of the first sample)
//	then count float64 longitude samples in degrees
//
// A table covers its civil year: the first sample at or before Jan 1 00:00
// UTC, the last at or after the first instant of the next year.
const (
	tableMagic      = "EPH1"
	tableHeaderSize = 24
	float64ByteSize = 8
)

// S3Client abstracts S3 object retrieval for testability.
type S3Client interface {
	// GetObject fetches an object by bucket and key, returning its body.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// yearTable holds one decoded year of longitude samples.
type yearTable struct {
	year    int
	start   int64
	step    int64
	samples []float64
}

// Table serves longitudes from precomputed per-year sample tables stored as
// zstd-compressed objects in S3. Tables are fetched on first use and cached
// for the provider's lifetime; concurrent loaders of the same year race
// benignly and the first insert wins.
type Table struct {
	s3     S3Client
	bucket string
	prefix string
	logger *slog.Logger

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool sync.Pool

	mu    sync.RWMutex
	years map[int]*yearTable
}

// NewTable creates a Table provider reading year objects below prefix in the
// given bucket.
func NewTable(s3Client S3Client, bucket, prefix string, logger *slog.Logger) *Table {
	return &Table{
		s3:     s3Client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// Never fails with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
		years: make(map[int]*yearTable),
	}
}

// TableKey constructs the S3 key for a year object. The builder tool uses
// the same function, so reader and writer can never disagree on layout.
// Format: {prefix}/{year}.eph.zst
func TableKey(prefix string, year int) string {
	if prefix == "" {
		return fmt.Sprintf("%d.eph.zst", year)
	}
	return fmt.Sprintf("%s/%d.eph.zst", prefix, year)
}

// LongitudeAt implements Provider by interpolating within the sample table
// of the instant's civil year.
func (p *Table) LongitudeAt(ctx context.Context, t time.Time) (float64, error) {
	yt, err := p.yearFor(ctx, t.UTC().Year())
	if err != nil {
		return 0, err
	}
	return yt.longitudeAt(t)
}

// yearFor returns the cached table for a year, loading it on first use.
func (p *Table) yearFor(ctx context.Context, year int) (*yearTable, error) {
	p.mu.RLock()
	yt, ok := p.years[year]
	p.mu.RUnlock()
	if ok {
		return yt, nil
	}

	loaded, err := p.fetchYear(ctx, year)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.years[year]; ok {
		// Another loader got here first; keep its table.
		return existing, nil
	}
	p.years[year] = loaded
	return loaded, nil
}

// fetchYear retrieves, decompresses, and parses one year object.
func (p *Table) fetchYear(ctx context.Context, year int) (*yearTable, error) {
	key := TableKey(p.prefix, year)

	body, err := p.s3.GetObject(ctx, p.bucket, key)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("failed to fetch ephemeris table %s: %v", key, err),
			err,
		)
	}
	defer body.Close()

	compressed, err := io.ReadAll(body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("failed to read ephemeris table body %s: %v", key, err),
			err,
		)
	}

	raw, err := p.decompressZstd(compressed)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("failed to decompress ephemeris table %s: %v", key, err),
			err,
		)
	}

	yt, err := parseYearTable(raw)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("malformed ephemeris table %s: %v", key, err),
			err,
		)
	}
	if yt.year != year {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("ephemeris table %s declares a different year", key),
			nil,
			map[string]any{"requested_year": year, "table_year": yt.year},
		)
	}

	p.logger.Info("loaded ephemeris year table",
		"year", year,
		"samples", len(yt.samples),
		"step_seconds", yt.step,
	)
	return yt, nil
}

// decompressZstd decompresses zstd-compressed data using pooled decoders.
func (p *Table) decompressZstd(data []byte) ([]byte, error) {
	decoder := p.decoderPool.Get().(*zstd.Decoder)
	defer p.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}

// parseYearTable decodes the binary table layout.
func parseYearTable(raw []byte) (*yearTable, error) {
	if len(raw) < tableHeaderSize {
		return nil, fmt.Errorf("table shorter than header: %d bytes", len(raw))
	}
	if string(raw[:4]) != tableMagic {
		return nil, fmt.Errorf("bad magic %q", raw[:4])
	}

	year := binary.LittleEndian.Uint32(raw[4:8])
	count := binary.LittleEndian.Uint32(raw[8:12])
	step := binary.LittleEndian.Uint32(raw[12:16])
	start := int64(binary.LittleEndian.Uint64(raw[16:24]))

	if count < 2 {
		return nil, fmt.Errorf("table needs at least 2 samples, has %d", count)
	}
	if step == 0 {
		return nil, fmt.Errorf("zero sample step")
	}
	want := tableHeaderSize + int(count)*float64ByteSize
	if len(raw) != want {
		return nil, fmt.Errorf("table length %d does not match count %d (want %d)", len(raw), count, want)
	}

	samples := make([]float64, count)
	for i := range samples {
		off := tableHeaderSize + i*float64ByteSize
		v := math.Float64frombits(binary.LittleEndian.Uint64(raw[off : off+float64ByteSize]))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite sample at index %d", i)
		}
		samples[i] = v
	}

	return &yearTable{
		year:    int(year),
		start:   start,
		step:    int64(step),
		samples: samples,
	}, nil
}

// EncodeYear serializes one year of longitude samples into the table layout
// and zstd-compresses it. It enforces the same constraints parseYearTable
// checks on read, so an encoded table is always loadable. The header stores
// the year as uint32, which rules out negative years.
func EncodeYear(year int, start, step int64, samples []float64) ([]byte, error) {
	if year < 0 {
		return nil, fmt.Errorf("table format cannot represent negative year %d", year)
	}
	if len(samples) < 2 {
		return nil, fmt.Errorf("table needs at least 2 samples, has %d", len(samples))
	}
	if step <= 0 || step > math.MaxUint32 {
		return nil, fmt.Errorf("sample step %d outside uint32 range", step)
	}
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("non-finite sample at index %d", i)
		}
	}

	raw := make([]byte, 0, tableHeaderSize+len(samples)*float64ByteSize)
	raw = append(raw, tableMagic...)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(year))
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(samples)))
	raw = binary.LittleEndian.AppendUint32(raw, uint32(step))
	raw = binary.LittleEndian.AppendUint64(raw, uint64(start))
	for _, s := range samples {
		raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(s))
	}

	// Tables are built once and read many times, so favor compression ratio
	// over encoding speed.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// BuildYear samples a provider across one civil year at the given step and
// encodes the result. The first sample lands on Jan 1 00:00 UTC and the last
// at or after the first instant of the next year, so the table covers every
// instant of its year.
func BuildYear(ctx context.Context, provider Provider, year int, step time.Duration) ([]byte, error) {
	stepSec := int64(step / time.Second)
	if stepSec <= 0 {
		return nil, fmt.Errorf("sample step must be at least one second, got %s", step)
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	span := end.Unix() - start.Unix()

	count := int(span/stepSec) + 1
	if int64(count-1)*stepSec < span {
		count++
	}

	samples := make([]float64, count)
	for i := range samples {
		at := start.Add(time.Duration(int64(i)*stepSec) * time.Second)
		lon, err := provider.LongitudeAt(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("sampling longitude at %s: %w", at.Format(time.RFC3339), err)
		}
		samples[i] = lon
	}

	return EncodeYear(year, start.Unix(), stepSec, samples)
}

// longitudeAt linearly interpolates between the two samples bracketing t.
// The forward delta is taken mod 360 so interpolation stays correct across
// the 360-to-0 wrap.
func (yt *yearTable) longitudeAt(t time.Time) (float64, error) {
	sec := float64(t.Unix()-yt.start) + float64(t.Nanosecond())/1e9
	last := float64(yt.step) * float64(len(yt.samples)-1)
	if sec < 0 || sec > last {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeProviderFailure,
			"instant outside ephemeris table coverage",
			nil,
			map[string]any{
				"instant": t.UTC().Format(time.RFC3339Nano),
				"year":    yt.year,
			},
		)
	}

	pos := sec / float64(yt.step)
	i := int(pos)
	if i >= len(yt.samples)-1 {
		return astro.Norm360(yt.samples[len(yt.samples)-1]), nil
	}
	frac := pos - float64(i)
	a := yt.samples[i]
	delta := astro.Norm360(yt.samples[i+1] - a)
	return astro.Norm360(a + frac*delta), nil
}

var _ Provider = (*Table)(nil)
