// Package stats collects per-identifier simulation statistics into
// Prometheus vectors. Identifiers follow the satellite topology: the whole
// system, a gateway, a beam, a terminal or a user behind a terminal.
package stats

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// IDMapper maps link addresses to the small integer ids used to label
// statistics, and records which beam and gateway each terminal belongs to.
// Ids start at 1; 0 means unknown. One mapper is built per simulation and
// handed to every helper.
type IDMapper struct {
	mu sync.RWMutex

	utIDs     map[model.Address]uint32
	gwIDs     map[model.Address]uint32
	utUserIDs map[model.Address]uint32

	utBeam map[model.Address]uint32
	userUt map[model.Address]model.Address
	beamGw map[uint32]uint32
}

// NewIDMapper returns an empty mapper.
func NewIDMapper() *IDMapper {
	return &IDMapper{
		utIDs:     make(map[model.Address]uint32),
		gwIDs:     make(map[model.Address]uint32),
		utUserIDs: make(map[model.Address]uint32),
		utBeam:    make(map[model.Address]uint32),
		userUt:    make(map[model.Address]model.Address),
		beamGw:    make(map[uint32]uint32),
	}
}

func attach(ids map[model.Address]uint32, addr model.Address) uint32 {
	if id, ok := ids[addr]; ok {
		return id
	}
	id := uint32(len(ids)) + 1
	ids[addr] = id
	return id
}

// AttachUt assigns the next UT id to addr. Repeated calls return the same id.
func (m *IDMapper) AttachUt(addr model.Address) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return attach(m.utIDs, addr)
}

// AttachGw assigns the next gateway id to addr.
func (m *IDMapper) AttachGw(addr model.Address) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return attach(m.gwIDs, addr)
}

// AttachUtUser assigns the next UT user id to user and links it to its
// terminal.
func (m *IDMapper) AttachUtUser(user, ut model.Address) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userUt[user] = ut
	return attach(m.utUserIDs, user)
}

// AttachUtToBeam records the beam serving a terminal.
func (m *IDMapper) AttachUtToBeam(ut model.Address, beamID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utBeam[ut] = beamID
}

// AttachBeamToGw records the gateway id serving a beam.
func (m *IDMapper) AttachBeamToGw(beamID, gwID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beamGw[beamID] = gwID
}

// UtID returns the id of a terminal.
func (m *IDMapper) UtID(addr model.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.utIDs[addr]
	return id, ok
}

// GwID returns the id of a gateway.
func (m *IDMapper) GwID(addr model.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.gwIDs[addr]
	return id, ok
}

// UtUserID returns the id of a user behind a terminal.
func (m *IDMapper) UtUserID(addr model.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.utUserIDs[addr]
	return id, ok
}

// BeamOfUt returns the beam serving a terminal.
func (m *IDMapper) BeamOfUt(ut model.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.utBeam[ut]
	return id, ok
}

// UtOfUser returns the terminal a user sits behind.
func (m *IDMapper) UtOfUser(user model.Address) (model.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ut, ok := m.userUt[user]
	return ut, ok
}

// GwOfBeam returns the gateway id serving a beam.
func (m *IDMapper) GwOfBeam(beamID uint32) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.beamGw[beamID]
	return id, ok
}

// UtIDs returns every terminal id in ascending order.
func (m *IDMapper) UtIDs() []uint32 { return m.sortedValues(m.utIDs) }

// GwIDs returns every gateway id in ascending order.
func (m *IDMapper) GwIDs() []uint32 { return m.sortedValues(m.gwIDs) }

// UtUserIDs returns every UT user id in ascending order.
func (m *IDMapper) UtUserIDs() []uint32 { return m.sortedValues(m.utUserIDs) }

// BeamIDs returns every beam with a terminal or a gateway, in ascending order.
func (m *IDMapper) BeamIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uint32]struct{})
	for _, b := range m.utBeam {
		seen[b] = struct{}{}
	}
	for b := range m.beamGw {
		seen[b] = struct{}{}
	}
	out := make([]uint32, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

func (m *IDMapper) sortedValues(ids map[model.Address]uint32) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
