// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// Canonical block type codes, as specified in section 4.3 and its registry.
const (
	// ExtBlockTypePayloadBlock is the mandatory Payload Block's type code.
	ExtBlockTypePayloadBlock uint64 = 1

	// ExtBlockTypePreviousNodeBlock is the Previous Node Block's type code.
	ExtBlockTypePreviousNodeBlock uint64 = 6

	// ExtBlockTypeBundleAgeBlock is the Bundle Age Block's type code.
	ExtBlockTypeBundleAgeBlock uint64 = 7

	// ExtBlockTypeHopCountBlock is the Hop Count Block's type code.
	ExtBlockTypeHopCountBlock uint64 = 10

	// ExtBlockTypeBinarySprayBlock is the Binary Spray & Wait metadata
	// Block's type code, within the private/experimental use range.
	ExtBlockTypeBinarySprayBlock uint64 = 193
)
