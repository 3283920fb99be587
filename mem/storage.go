// Package mem models the physical memory of the simulated machine,
// including the byte-addressable storage and the physical page allocator.
package mem

import "errors"

// ErrBeyondCapacity is returned when an access touches an address beyond the
// storage capacity.
var ErrBeyondCapacity = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the data of the simulated machine.
//
// The storage manages its backing memory in units. Units that are never
// touched by Read or Write are not allocated.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity, in bytes.
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 256,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) createOrGetUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, ErrBeyondCapacity
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr
	return
}

// Read returns n bytes starting at the given address.
func (s *Storage) Read(address, n uint64) ([]byte, error) {
	if address+n > s.capacity {
		return nil, ErrBeyondCapacity
	}

	res := make([]byte, n)
	currAddr := address
	dataOffset := uint64(0)

	for currAddr < address+n {
		unit, err := s.createOrGetUnit(currAddr)
		if err != nil {
			return nil, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenInUnit := baseAddr + s.unitSize - currAddr
		lenToRead := address + n - currAddr
		if lenToRead > lenInUnit {
			lenToRead = lenInUnit
		}

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores the given bytes starting at the given address.
func (s *Storage) Write(address uint64, data []byte) error {
	if address+uint64(len(data)) > s.capacity {
		return ErrBeyondCapacity
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := s.createOrGetUnit(currAddr)
		if err != nil {
			return err
		}

		_, inUnitAddr := s.parseAddress(currAddr)
		lenInUnit := s.unitSize - inUnitAddr
		lenToWrite := uint64(len(data)) - dataOffset
		if lenToWrite > lenInUnit {
			lenToWrite = lenInUnit
		}

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// ReadByte returns the byte at the given address.
func (s *Storage) ReadByte(address uint64) (byte, error) {
	unit, err := s.createOrGetUnit(address)
	if err != nil {
		return 0, err
	}

	_, inUnitAddr := s.parseAddress(address)

	return unit[inUnitAddr], nil
}

// WriteByte stores one byte at the given address.
func (s *Storage) WriteByte(address uint64, value byte) error {
	unit, err := s.createOrGetUnit(address)
	if err != nil {
		return err
	}

	_, inUnitAddr := s.parseAddress(address)
	unit[inUnitAddr] = value

	return nil
}
