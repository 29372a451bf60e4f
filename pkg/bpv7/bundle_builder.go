// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"reflect"
	"time"
)

// BundleBuilder is a fluent, chainable way to create Bundles. Each setter
// method returns the same *BundleBuilder, so calls can be chained up to a
// final Build call. The first error encountered is sticky; later calls turn
// into no-ops once bldr.err is set, and Build reports it.
type BundleBuilder struct {
	err error

	source      EndpointID
	destination EndpointID
	reportTo    EndpointID
	reportToSet bool

	creationTimestamp CreationTimestamp
	lifetime          uint64
	bundleCtrlFlags   BundleControlFlags

	canonicals       []CanonicalBlock
	canonicalCounter uint64

	crcType CRCType
}

// Builder creates a new BundleBuilder.
func Builder() *BundleBuilder {
	return &BundleBuilder{
		canonicalCounter: 2,
		crcType:          CRCNo,
		bundleCtrlFlags:  StatusRequestDelivery,
	}
}

// Error returns the first error which occurred during building, if any.
func (bldr *BundleBuilder) Error() error {
	return bldr.err
}

// CRC sets this Bundle's CRC type, applied to the primary block and all
// canonical blocks at Build time.
func (bldr *BundleBuilder) CRC(crcType CRCType) *BundleBuilder {
	if bldr.err == nil {
		bldr.crcType = crcType
	}

	return bldr
}

// bldrParseEndpoint returns an EndpointID for a given EndpointID or a string
// representing an endpoint identifier as an URI.
func bldrParseEndpoint(eid interface{}) (e EndpointID, err error) {
	switch val := eid.(type) {
	case EndpointID:
		e = val
	case string:
		e, err = NewEndpointID(val)
	default:
		err = fmt.Errorf("%T is neither an EndpointID nor a string", eid)
	}
	return
}

// bldrParseLifetime returns a duration in milliseconds for a given integer
// number of milliseconds, a time.Duration or a duration string to be parsed.
func bldrParseLifetime(duration interface{}) (ms uint64, err error) {
	switch val := duration.(type) {
	case int:
		if val < 0 {
			err = fmt.Errorf("lifetime %d is negative", val)
		} else {
			ms = uint64(val)
		}
	case uint64:
		ms = val
	case float64:
		if val < 0 {
			err = fmt.Errorf("lifetime %v is negative", val)
		} else {
			ms = uint64(val)
		}
	case time.Duration:
		if val <= 0 {
			err = fmt.Errorf("lifetime's duration %v <= 0", val)
		} else {
			ms = uint64(val.Milliseconds())
		}
	case string:
		dur, durErr := time.ParseDuration(val)
		if durErr != nil {
			err = durErr
		} else if dur <= 0 {
			err = fmt.Errorf("lifetime's duration %v <= 0", dur)
		} else {
			ms = uint64(dur.Milliseconds())
		}
	default:
		err = fmt.Errorf("%T is neither an int, time.Duration nor a string for a Duration", duration)
	}
	return
}

// Source sets this Bundle's source node, either as an EndpointID or a string.
func (bldr *BundleBuilder) Source(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.source = e
	}

	return bldr
}

// Destination sets this Bundle's destination, either as an EndpointID or a string.
func (bldr *BundleBuilder) Destination(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.destination = e
	}

	return bldr
}

// ReportTo sets this Bundle's report-to endpoint, either as an EndpointID or
// a string. Defaults to the source endpoint if never called.
func (bldr *BundleBuilder) ReportTo(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.reportTo = e
		bldr.reportToSet = true
	}

	return bldr
}

func (bldr *BundleBuilder) creationTimestamp0(t DtnTime) *BundleBuilder {
	if bldr.err == nil {
		bldr.creationTimestamp = NewCreationTimestamp(t, 0)
	}

	return bldr
}

// CreationTimestampEpoch sets the creation timestamp to the DTN epoch, mostly
// useful for reproducible tests.
func (bldr *BundleBuilder) CreationTimestampEpoch() *BundleBuilder {
	return bldr.creationTimestamp0(DtnTimeEpoch)
}

// CreationTimestampNow sets the creation timestamp to the current time.
func (bldr *BundleBuilder) CreationTimestampNow() *BundleBuilder {
	return bldr.creationTimestamp0(DtnTimeNow())
}

// CreationTimestampTime sets the creation timestamp to a given time.Time.
func (bldr *BundleBuilder) CreationTimestampTime(t time.Time) *BundleBuilder {
	return bldr.creationTimestamp0(DtnTimeFromTime(t))
}

// Lifetime sets this Bundle's lifetime. The duration may be an int or uint64
// of milliseconds, a time.Duration or a duration string like "10m".
func (bldr *BundleBuilder) Lifetime(duration interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if ms, err := bldrParseLifetime(duration); err != nil {
		bldr.err = err
	} else {
		bldr.lifetime = ms
	}

	return bldr
}

// BundleCtrlFlags sets the bundle processing control flags.
func (bldr *BundleBuilder) BundleCtrlFlags(bcf BundleControlFlags) *BundleBuilder {
	if bldr.err == nil {
		bldr.bundleCtrlFlags = bcf
	}

	return bldr
}

// Canonical appends a canonical block. value is either an ExtensionBlock,
// wrapped with the next free block number and, unless overridden by an
// optional BlockControlFlags argument, the ReplicateBlock flag; or an
// already complete CanonicalBlock (as returned by AdministrativeRecordToCbor),
// which is appended verbatim, numbering and flags untouched.
func (bldr *BundleBuilder) Canonical(value interface{}, flags ...BlockControlFlags) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	switch v := value.(type) {
	case CanonicalBlock:
		bldr.canonicals = append(bldr.canonicals, v)

	case ExtensionBlock:
		bcf := ReplicateBlock
		if len(flags) > 0 {
			bcf = flags[0]
		}

		no := bldr.canonicalCounter
		bldr.canonicalCounter++

		bldr.canonicals = append(bldr.canonicals, NewCanonicalBlock(no, bcf, v))

	default:
		bldr.err = fmt.Errorf("%T is neither a CanonicalBlock nor an ExtensionBlock", value)
	}

	return bldr
}

// HopCountBlock appends a Hop Count Block with the given hop limit, which may
// be an int, a float64 (as decoded from JSON) or anything else convertible
// to a uint8. An optional BlockControlFlags argument overrides the default.
func (bldr *BundleBuilder) HopCountBlock(limit interface{}, flags ...BlockControlFlags) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	var l int64
	switch v := limit.(type) {
	case int:
		l = int64(v)
	case uint64:
		l = int64(v)
	case float64:
		l = int64(v)
	default:
		bldr.err = fmt.Errorf("%T is not a numeric hop limit", limit)
		return bldr
	}

	if l < 0 || l > 0xFF {
		bldr.err = fmt.Errorf("hop limit %d is out of uint8 range", l)
		return bldr
	}

	return bldr.Canonical(NewHopCountBlock(uint8(l)), flags...)
}

// BundleAgeBlock appends a Bundle Age Block for a given initial age, which
// may be an int, a time.Duration or a duration string, same as Lifetime; an
// int is read as milliseconds. The block stores the age in microseconds. An
// optional BlockControlFlags argument overrides the default.
func (bldr *BundleBuilder) BundleAgeBlock(age interface{}, flags ...BlockControlFlags) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	ms, err := bldrParseLifetimeOrZero(age)
	if err != nil {
		bldr.err = err
		return bldr
	}

	return bldr.Canonical(NewBundleAgeBlock(ms*1000), flags...)
}

// bldrParseLifetimeOrZero is bldrParseLifetime, but also accepts a literal
// zero, which bldrParseLifetime would otherwise reject as a non-positive duration.
func bldrParseLifetimeOrZero(val interface{}) (ms uint64, err error) {
	switch v := val.(type) {
	case int:
		if v < 0 {
			err = fmt.Errorf("age %d is negative", v)
		} else {
			ms = uint64(v)
		}
		return
	case uint64:
		ms = v
		return
	case float64:
		if v < 0 {
			err = fmt.Errorf("age %v is negative", v)
		} else {
			ms = uint64(v)
		}
		return
	default:
		return bldrParseLifetime(val)
	}
}

// PreviousNodeBlock appends a Previous Node Block for a given EndpointID or
// string. An optional BlockControlFlags argument overrides the default.
func (bldr *BundleBuilder) PreviousNodeBlock(eid interface{}, flags ...BlockControlFlags) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	e, err := bldrParseEndpoint(eid)
	if err != nil {
		bldr.err = err
		return bldr
	}

	return bldr.Canonical(NewPreviousNodeBlock(e), flags...)
}

// PayloadBlock sets this Bundle's payload block, always assigned block
// number one. data may be a []byte or a string.
func (bldr *BundleBuilder) PayloadBlock(data interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		bldr.err = fmt.Errorf("%T is neither a []byte nor a string for a payload", data)
		return bldr
	}

	bldr.canonicals = append(bldr.canonicals, NewCanonicalBlock(1, 0, NewPayloadBlock(payload)))

	return bldr
}

// StatusReport turns this Bundle into an administrative record, carrying a
// status report about origBndl. This also sets the AdministrativeRecordPayload
// bundle processing control flag.
func (bldr *BundleBuilder) StatusReport(origBndl Bundle, status StatusInformationPos, reason StatusReportReason) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	sr := NewStatusReport(origBndl, status, reason, DtnTimeNow())

	blk, err := AdministrativeRecordToCbor(sr)
	if err != nil {
		bldr.err = err
		return bldr
	}

	bldr.bundleCtrlFlags = AdministrativeRecordPayload

	return bldr.Canonical(blk)
}

// Build creates a Bundle from this BundleBuilder's state.
//
// ReportTo defaults to Source, if it was never set. Source and Destination
// are mandatory.
func (bldr *BundleBuilder) Build() (bndl Bundle, err error) {
	if bldr.err != nil {
		err = bldr.err
		return
	}

	if bldr.source == (EndpointID{}) || bldr.destination == (EndpointID{}) {
		err = fmt.Errorf("both Source and Destination must be set")
		return
	}

	primary := NewPrimaryBlock(
		bldr.bundleCtrlFlags, bldr.destination, bldr.source, bldr.creationTimestamp, bldr.lifetime)
	if bldr.reportToSet {
		primary.ReportTo = bldr.reportTo
	}

	bndl, err = NewBundle(primary, bldr.canonicals)
	if err != nil {
		return
	}

	bndl.SetCRCType(bldr.crcType)

	return
}

// mustBuild calls Build and panics on error. Only meant for tests and fixed,
// known-good bundle construction.
func (bldr *BundleBuilder) mustBuild() Bundle {
	bndl, err := bldr.Build()
	if err != nil {
		panic(err)
	}

	return bndl
}

// snakeFieldNames maps the snake_case keys accepted by BuildFromMap to the
// BundleBuilder's method names.
var snakeFieldNames = map[string]string{
	"source":                   "Source",
	"destination":              "Destination",
	"report_to":                "ReportTo",
	"creation_timestamp_epoch": "CreationTimestampEpoch",
	"creation_timestamp_now":   "CreationTimestampNow",
	"lifetime":                 "Lifetime",
	"hop_count_block":          "HopCountBlock",
	"bundle_age_block":         "BundleAgeBlock",
	"previous_node_block":      "PreviousNodeBlock",
	"payload_block":            "PayloadBlock",
}

// BuildFromMap creates a Bundle from a map of snake_case BundleBuilder method
// names to their single argument, e.g., map[string]interface{}{"source":
// "dtn://src/", "destination": "dtn://dst/", "payload_block": []byte("hi")}.
//
// CreationTimestampEpoch and CreationTimestampNow take no builder argument;
// their presence as a key is enough to invoke them, the value is ignored.
func BuildFromMap(args map[string]interface{}) (bndl Bundle, err error) {
	bldr := Builder()

	for key, val := range args {
		methodName, known := snakeFieldNames[key]
		if !known {
			return Bundle{}, fmt.Errorf("unknown BundleBuilder field %q", key)
		}

		method := reflect.ValueOf(bldr).MethodByName(methodName)
		if !method.IsValid() {
			return Bundle{}, fmt.Errorf("BundleBuilder has no method %q", methodName)
		}

		numIn := method.Type().NumIn()
		if method.Type().IsVariadic() {
			numIn--
		}

		var in []reflect.Value
		if numIn == 1 {
			in = []reflect.Value{reflect.ValueOf(val)}
		}

		out := method.Call(in)
		if len(out) == 1 {
			bldr = out[0].Interface().(*BundleBuilder)
		}

		if bldr.err != nil {
			return Bundle{}, bldr.err
		}
	}

	return bldr.Build()
}
