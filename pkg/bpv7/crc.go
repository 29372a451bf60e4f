// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

// CRCType indicates which CRC type is used. Only the three defined consts
// CRCNo, CRC16 and CRC32 are valid, as specified in section 4.1.1.
type CRCType uint64

const (
	CRCNo CRCType = 0
	CRC16 CRCType = 1
	CRC32 CRCType = 2
)

func (c CRCType) String() string {
	switch c {
	case CRCNo:
		return "no"
	case CRC16:
		return "16"
	case CRC32:
		return "32"
	default:
		return "unknown"
	}
}

var (
	crc16table = crc16.MakeTable(crc16.CCITT)
	crc32table = crc32.MakeTable(crc32.Castagnoli)
)

// emptyCRC returns the "default", all-zero CRC value for the given CRCType.
func emptyCRC(crcType CRCType) (arr []byte) {
	switch crcType {
	case CRCNo:
		arr = nil
	case CRC16:
		arr = make([]byte, 2)
	case CRC32:
		arr = make([]byte, 4)
	default:
		panic("Unknown CRCType")
	}
	return
}

// calculateCRCBuff calculates the CRC value for a buffer that holds a block's
// CBOR serialization up to, but excluding, its CRC field. An all-zero
// placeholder of emptyCRC's length is appended to buff as a CBOR byte string,
// and the digest is computed over buff's full accumulated bytes (including
// that placeholder), matching how both PrimaryBlock and CanonicalBlock lay
// out their trailing CRC field.
func calculateCRCBuff(buff *bytes.Buffer, crcType CRCType) ([]byte, error) {
	data := emptyCRC(crcType)

	if err := cboring.WriteByteString(data, buff); err != nil {
		return nil, err
	}

	switch crcType {
	case CRCNo:
	case CRC16:
		binary.BigEndian.PutUint16(data, crc16.Checksum(buff.Bytes(), crc16table))
	case CRC32:
		binary.BigEndian.PutUint32(data, crc32.Checksum(buff.Bytes(), crc32table))
	default:
		panic("Unknown CRCType")
	}

	return data, nil
}
