package config

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
)

// NVM record framing. The record begins with a CRC over everything
// after it, then a magic number, a format version, and the
// self-declared total size, followed by the CBOR-encoded settings.
// Any mismatch means the caller substitutes factory defaults.
const (
	nvmMagic   = 0x4d4a522a
	nvmVersion = 0x0004
)

const nvmHeaderLen = 4 + 4 + 2 + 4

// MarshalNVM encodes the config as a flash record.
func MarshalNVM(c *Config) ([]byte, error) {
	body, err := cbor.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	rec := make([]byte, nvmHeaderLen+len(body))
	binary.LittleEndian.PutUint32(rec[4:], nvmMagic)
	binary.LittleEndian.PutUint16(rec[8:], nvmVersion)
	binary.LittleEndian.PutUint32(rec[10:], uint32(len(rec)))
	copy(rec[nvmHeaderLen:], body)
	binary.LittleEndian.PutUint32(rec, crc32.ChecksumIEEE(rec[4:]))
	return rec, nil
}

// UnmarshalNVM decodes a flash record into the config. It reports
// false - leaving the config untouched - if the record is absent,
// truncated, from a different format version, or fails its CRC.
func UnmarshalNVM(c *Config, rec []byte) bool {
	if len(rec) < nvmHeaderLen {
		return false
	}
	if binary.LittleEndian.Uint32(rec[4:]) != nvmMagic {
		return false
	}
	if binary.LittleEndian.Uint16(rec[8:]) != nvmVersion {
		return false
	}
	sz := binary.LittleEndian.Uint32(rec[10:])
	if int(sz) > len(rec) || sz < nvmHeaderLen {
		return false
	}
	rec = rec[:sz]
	if binary.LittleEndian.Uint32(rec) != crc32.ChecksumIEEE(rec[4:]) {
		return false
	}
	var tmp Config
	if err := cbor.Unmarshal(rec[nvmHeaderLen:], &tmp); err != nil {
		return false
	}
	*c = tmp
	return true
}

// Host-patchable defaults blob: a 32-byte ASCII signature, a 16-bit
// little-endian count, then that many 8-byte set-variable messages.
// The host's installer tool may rewrite this region of the firmware
// image before download, so a unit comes up configured on first boot
// even with no NVM record.

// BlobSignature identifies a defaults blob.
const BlobSignature = "///Pincab.Config.Defaults.v1///\x00"

// ApplyDefaultsBlob scans data for the signature and applies the
// embedded set-variable stream on top of the current config. It
// reports whether a valid blob was found.
func ApplyDefaultsBlob(c *Config, data []byte) bool {
	if len(data) < len(BlobSignature)+2 {
		return false
	}
	if string(data[:len(BlobSignature)]) != BlobSignature {
		return false
	}
	n := int(binary.LittleEndian.Uint16(data[len(BlobSignature):]))
	msgs := data[len(BlobSignature)+2:]
	if len(msgs) < n*8 {
		return false
	}
	for i := 0; i < n; i++ {
		msg := msgs[i*8 : i*8+8]
		if msg[0] != 66 {
			continue
		}
		SetVar(c, msg)
	}
	return true
}
