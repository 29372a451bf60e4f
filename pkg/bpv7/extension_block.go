// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding"
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"
)

// ExtensionBlock is a specific shape of a Canonical Block, i.e., the Payload
// Block or a more generic extension block as defined in section 4.3. Besides
// the Valid and the block type code contract, an ExtensionBlock must support
// one of two serialization styles: either a direct cboring.CborMarshaler
// implementation for blocks whose data is itself a nested CBOR structure
// (PreviousNodeBlock, BundleAgeBlock, HopCountBlock), or an
// encoding.BinaryMarshaler/Unmarshaler implementation for blocks carrying an
// opaque byte payload (PayloadBlock, GenericExtensionBlock). In both cases the
// ExtensionBlockManager wraps the resulting bytes as a CBOR byte string on the
// wire.
type ExtensionBlock interface {
	Valid

	// BlockTypeCode must return a constant integer, indicating the block type code.
	BlockTypeCode() uint64

	// BlockTypeName must return a constant string, this block's name.
	BlockTypeName() string

	// CheckContextValid allows an ExtensionBlock to check itself against the
	// Bundle it is part of, e.g., to enforce a cardinality constraint.
	CheckContextValid(*Bundle) error
}

// ExtensionBlockManager keeps a book on various types of ExtensionBlocks that
// can be changed at runtime. Thus, new ExtensionBlocks can be created based
// on their block type code, and existing ones can be (de)serialized without
// the caller needing to know their concrete Go type.
//
// A singleton ExtensionBlockManager can be fetched by GetExtensionBlockManager.
type ExtensionBlockManager struct {
	data map[uint64]reflect.Type
}

// NewExtensionBlockManager creates an empty ExtensionBlockManager. To use a
// singleton ExtensionBlockManager one can use GetExtensionBlockManager.
func NewExtensionBlockManager() *ExtensionBlockManager {
	return &ExtensionBlockManager{make(map[uint64]reflect.Type)}
}

// Register a new ExtensionBlock type through an exemplary instance.
func (ebm *ExtensionBlockManager) Register(eb ExtensionBlock) error {
	extCode := eb.BlockTypeCode()
	extType := reflect.TypeOf(eb).Elem()

	if otherType, exists := ebm.data[extCode]; exists {
		return fmt.Errorf("block type code %d is already registered for %s", extCode, otherType.Name())
	}

	ebm.data[extCode] = extType
	return nil
}

// Unregister an ExtensionBlock type through an exemplary instance.
func (ebm *ExtensionBlockManager) Unregister(eb ExtensionBlock) {
	delete(ebm.data, eb.BlockTypeCode())
}

// IsKnown returns true if the given block type code is registered.
func (ebm *ExtensionBlockManager) IsKnown(typeCode uint64) bool {
	_, known := ebm.data[typeCode]
	return known
}

// CreateBlock returns a fresh, zero-valued ExtensionBlock instance for the
// requested block type code.
func (ebm *ExtensionBlockManager) CreateBlock(typeCode uint64) (eb ExtensionBlock, err error) {
	extType, exists := ebm.data[typeCode]
	if !exists {
		err = fmt.Errorf("no ExtensionBlock registered for block type code %d", typeCode)
		return
	}

	eb = reflect.New(extType).Interface().(ExtensionBlock)
	return
}

// WriteBlock serializes an ExtensionBlock's data as a CBOR byte string,
// holding either the block's nested CBOR encoding or its binary
// representation, depending on which interface the block implements.
func (ebm *ExtensionBlockManager) WriteBlock(eb ExtensionBlock, w io.Writer) error {
	if cm, ok := eb.(cboring.CborMarshaler); ok {
		buff := new(bytes.Buffer)
		if err := cm.MarshalCbor(buff); err != nil {
			return err
		}
		return cboring.WriteByteString(buff.Bytes(), w)
	}

	if bm, ok := eb.(encoding.BinaryMarshaler); ok {
		data, err := bm.MarshalBinary()
		if err != nil {
			return err
		}
		return cboring.WriteByteString(data, w)
	}

	return fmt.Errorf("ExtensionBlock %s implements neither CborMarshaler nor BinaryMarshaler", eb.BlockTypeName())
}

// ReadBlock deserializes an ExtensionBlock for the given block type code,
// mirroring WriteBlock's encoding choice. Unknown type codes fall back to a
// GenericExtensionBlock that retains the raw byte-string payload.
func (ebm *ExtensionBlockManager) ReadBlock(typeCode uint64, r io.Reader) (eb ExtensionBlock, err error) {
	if !ebm.IsKnown(typeCode) {
		data, dataErr := cboring.ReadByteString(r)
		if dataErr != nil {
			return nil, dataErr
		}
		return NewGenericExtensionBlock(data, typeCode), nil
	}

	eb, err = ebm.CreateBlock(typeCode)
	if err != nil {
		return nil, err
	}

	if cm, ok := eb.(cboring.CborMarshaler); ok {
		data, dataErr := cboring.ReadByteString(r)
		if dataErr != nil {
			return nil, dataErr
		}
		err = cm.UnmarshalCbor(bytes.NewBuffer(data))
		return eb, err
	}

	if bu, ok := eb.(encoding.BinaryUnmarshaler); ok {
		data, dataErr := cboring.ReadByteString(r)
		if dataErr != nil {
			return nil, dataErr
		}
		err = bu.UnmarshalBinary(data)
		return eb, err
	}

	return nil, fmt.Errorf("ExtensionBlock %s implements neither CborMarshaler nor BinaryUnmarshaler", eb.BlockTypeName())
}

// extensionBlockManager is the pointer to the singleton ExtensionBlockManager.
var extensionBlockManager *ExtensionBlockManager

// GetExtensionBlockManager returns the singleton ExtensionBlockManager. If
// none exists yet, a new one is created, pre-registered with the Payload
// Block, Previous Node Block, Bundle Age Block and Hop Count Block.
func GetExtensionBlockManager() *ExtensionBlockManager {
	if extensionBlockManager == nil {
		extensionBlockManager = NewExtensionBlockManager()

		_ = extensionBlockManager.Register(NewPayloadBlock(nil))
		_ = extensionBlockManager.Register(NewPreviousNodeBlock(DtnNone()))
		_ = extensionBlockManager.Register(NewBundleAgeBlock(0))
		_ = extensionBlockManager.Register(NewHopCountBlock(0))
	}

	return extensionBlockManager
}
