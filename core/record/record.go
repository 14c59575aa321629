// Package record provides immutable pricing calculation records with
// content hashing. A record captures the scenario (input plus every
// exchange rate used) and the rendered results. Decoding a stored record
// reproduces the displayed figures without recomputation.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fuel-pricing/core/determinism"
	"fuel-pricing/core/types"
)

var (
	// ErrImmutabilityViolation is returned when a record id is written twice
	ErrImmutabilityViolation = errors.New("immutability violation: record cannot be modified")

	// ErrHashMismatch is returned when stored bytes do not match the recorded hash
	ErrHashMismatch = errors.New("record hash mismatch: data may be corrupted")

	// ErrNotFound is returned for unknown record ids
	ErrNotFound = errors.New("record not found")
)

// namespace for deriving record ids from content hashes
var recordNamespace = uuid.MustParse("5b0c1f6e-3f2a-4f43-9d53-6a0f3e2c9b17")

// ID identifies a calculation record
type ID string

// Scenario is the serialized input context plus all resolved rates
type Scenario struct {
	Input     types.ScenarioInput `json:"input"`
	UsedRates []types.RateQuote   `json:"used_currency_rates"`
	SourceID  ID                  `json:"source_calculation_id,omitempty"`
}

// Record is IMMUTABLE after Build or Decode.
type Record struct {
	ID          ID
	ContentHash determinism.ContentHash
	CreatedAt   time.Time

	scenario Scenario
	results  types.ScenarioResult
	sealed   bool
}

// payload is the hashed part of a record
type payload struct {
	CreatedAt time.Time            `json:"created_at"`
	Scenario  Scenario             `json:"scenario"`
	Results   types.ScenarioResult `json:"results"`
}

// envelope is the stored form
type envelope struct {
	ID          ID     `json:"id"`
	ContentHash string `json:"content_hash"`
	payload
}

// Builder builds a record
type Builder struct {
	input     types.ScenarioInput
	results   types.ScenarioResult
	sourceID  ID
	createdAt time.Time
}

// NewBuilder starts a record for a scenario input
func NewBuilder(input types.ScenarioInput) *Builder {
	return &Builder{input: input, createdAt: time.Now().UTC()}
}

// WithResults sets the rendered results
func (b *Builder) WithResults(res types.ScenarioResult) *Builder {
	b.results = res
	return b
}

// WithSource links a rerun to the record it was derived from
func (b *Builder) WithSource(id ID) *Builder {
	b.sourceID = id
	return b
}

// WithCreatedAt overrides the creation time
func (b *Builder) WithCreatedAt(t time.Time) *Builder {
	b.createdAt = t.UTC()
	return b
}

// Build seals the record. The rates recorded in the scenario are the ones
// the results were converted with.
func (b *Builder) Build() (*Record, error) {
	rec := &Record{
		CreatedAt: b.createdAt,
		scenario: Scenario{
			Input:     b.input,
			UsedRates: b.results.UsedRates,
			SourceID:  b.sourceID,
		},
		results: b.results,
	}

	// normalize through the wire form so a decoded copy hashes identically
	data, err := json.Marshal(rec.payload())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to normalize record: %w", err)
	}
	rec.CreatedAt, rec.scenario, rec.results = p.CreatedAt, p.Scenario, p.Results

	hash, err := rec.computeHash()
	if err != nil {
		return nil, err
	}
	rec.ContentHash = hash
	rec.ID = idFor(hash)
	rec.sealed = true
	return rec, nil
}

func idFor(hash determinism.ContentHash) ID {
	return ID(uuid.NewSHA1(recordNamespace, hash[:]).String())
}

func (r *Record) payload() payload {
	return payload{CreatedAt: r.CreatedAt, Scenario: r.scenario, Results: r.results}
}

func (r *Record) computeHash() (determinism.ContentHash, error) {
	data, err := json.Marshal(r.payload())
	if err != nil {
		return determinism.ContentHash{}, fmt.Errorf("failed to hash record: %w", err)
	}
	return determinism.ComputeHash(data), nil
}

// Scenario returns a copy of the recorded scenario
func (r *Record) Scenario() Scenario {
	return deepCopy(r.scenario)
}

// Results returns a copy of the recorded results
func (r *Record) Results() types.ScenarioResult {
	return deepCopy(r.results)
}

// deepCopy clones v through its wire form so callers never share slices,
// maps or pointers with a sealed record. Sealed contents always survived
// that round trip in Build or Decode.
func deepCopy[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("record: copy of sealed content failed: %v", err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("record: copy of sealed content failed: %v", err))
	}
	return out
}

// AirportID returns the priced airport
func (r *Record) AirportID() string {
	return r.scenario.Input.AirportID
}

// Sealed reports whether the record came from Build or Decode
func (r *Record) Sealed() bool {
	return r.sealed
}

// Verify checks content hash integrity
func (r *Record) Verify() bool {
	computed, err := r.computeHash()
	return err == nil && computed == r.ContentHash
}

// Encode returns the stored form
func (r *Record) Encode() ([]byte, error) {
	if !r.sealed {
		return nil, fmt.Errorf("record %s is not sealed", r.ID)
	}
	return json.MarshalIndent(envelope{ID: r.ID, ContentHash: r.ContentHash.Hex(), payload: r.payload()}, "", "  ")
}

// Decode parses a stored record and verifies its hash
func Decode(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	hash, err := determinism.ParseContentHash(env.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", env.ID, err)
	}
	rec := &Record{
		ID:          env.ID,
		ContentHash: hash,
		CreatedAt:   env.CreatedAt,
		scenario:    env.Scenario,
		results:     env.Results,
		sealed:      true,
	}
	if env.ID != idFor(hash) || !rec.Verify() {
		return nil, fmt.Errorf("record %s: %w", env.ID, ErrHashMismatch)
	}
	return rec, nil
}

// Metadata is the index entry of a stored record
type Metadata struct {
	ID          ID        `json:"id"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	AirportID   string    `json:"airport_id"`
	SourceID    ID        `json:"source_calculation_id,omitempty"`
	Rows        int       `json:"rows"`
	Size        int64     `json:"size"`
}

// Meta returns the index entry for a record of the given encoded size
func (r *Record) Meta(size int64) Metadata {
	return Metadata{
		ID:          r.ID,
		ContentHash: r.ContentHash.Hex(),
		CreatedAt:   r.CreatedAt,
		AirportID:   r.AirportID(),
		SourceID:    r.scenario.SourceID,
		Rows:        len(r.results.Rows),
		Size:        size,
	}
}
