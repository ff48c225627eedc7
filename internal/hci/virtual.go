package hci

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Faults selects virtual controller operations that should complete with
// the given failure status instead of success. The zero value injects
// nothing.
type Faults struct {
	StartSet   uint8
	Enable     uint8
	CreateBig  uint8
	SetupPath  uint8
	RemovePath uint8
}

type advSet struct {
	params       AdvertiseParams
	periodic     PeriodicParams
	enabled      bool
	advData      []byte
	periodicData []byte
}

// VirtualController is an in-memory stand-in for the advertising and ISO
// hardware. It allocates advertising set handles and BIS connection
// handles, keeps per-set and per-BIG state, and delivers completions
// asynchronously after the configured delay, serialized in command order
// the way real controller events arrive over the HCI transport.
type VirtualController struct {
	log   *slog.Logger
	delay time.Duration

	mu        sync.Mutex
	advCb     AdvertisingCallbacks
	bigCb     BigCallbacks
	faults    Faults
	ownAddr   Address
	nextAdvID uint8
	nextConn  uint16
	sets      map[uint8]*advSet
	bigs      map[uint8][]uint16
	handleBig map[uint16]uint8
	paths     map[uint16]uint8
	sduCount  uint64
	sduBytes  uint64

	// lastDone chains completion goroutines so events keep command order.
	lastDone chan struct{}
}

// NewVirtualController builds a controller whose completions fire after
// completionDelay. A zero delay completes on the next scheduler tick.
func NewVirtualController(log *slog.Logger, completionDelay time.Duration) *VirtualController {
	if log == nil {
		log = slog.Default()
	}
	c := &VirtualController{
		log:       log.With("component", "virtual_controller"),
		delay:     completionDelay,
		nextAdvID: 1,
		nextConn:  10,
		sets:      make(map[uint8]*advSet),
		bigs:      make(map[uint8][]uint16),
		handleBig: make(map[uint16]uint8),
		paths:     make(map[uint16]uint8),
	}
	if _, err := rand.Read(c.ownAddr[:]); err != nil {
		c.ownAddr = Address{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	}
	// Static random address: two most significant bits set.
	c.ownAddr[0] |= 0xc0
	return c
}

// InjectFaults makes subsequent operations complete with the selected
// failure statuses until cleared with a zero Faults value.
func (c *VirtualController) InjectFaults(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// Sent returns how many ISO SDUs and payload bytes have been accepted.
func (c *VirtualController) Sent() (sdus, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sduCount, c.sduBytes
}

// OwnAddress returns the controller's static random address.
func (c *VirtualController) OwnAddress() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownAddr
}

func (c *VirtualController) RegisterCallbacks(cb AdvertisingCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advCb = cb
}

func (c *VirtualController) RegisterBigCallbacks(cb BigCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bigCb = cb
}

func (c *VirtualController) StartAdvertisingSet(params AdvertiseParams, advData []byte, periodic PeriodicParams, periodicData []byte) {
	c.mu.Lock()
	id := c.nextAdvID
	c.nextAdvID++
	c.sets[id] = &advSet{
		params:       params,
		periodic:     periodic,
		advData:      cloneBytes(advData),
		periodicData: cloneBytes(periodicData),
	}
	status := StatusSuccess
	if c.faults.StartSet != 0 {
		status = c.faults.StartSet
	}
	cb := c.advCb
	c.mu.Unlock()

	c.log.Debug("advertising set starting", "adv_id", id, "tx_power", params.TxPower, "status", status)
	c.complete(func() {
		if cb != nil {
			cb.OnAdvertisingSetStarted(id, params.TxPower, status)
		}
	})
}

func (c *VirtualController) Enable(advID uint8, enable bool) {
	c.mu.Lock()
	set, ok := c.sets[advID]
	status := StatusSuccess
	switch {
	case !ok:
		status = StatusInvalidParameters
	case c.faults.Enable != 0:
		status = c.faults.Enable
	default:
		set.enabled = enable
	}
	cb := c.advCb
	c.mu.Unlock()

	c.log.Debug("advertising enable", "adv_id", advID, "enable", enable, "status", status)
	c.complete(func() {
		if cb != nil {
			cb.OnAdvertisingEnabled(advID, enable, status)
		}
	})
}

func (c *VirtualController) SetData(advID uint8, data []byte) {
	c.mu.Lock()
	set, ok := c.sets[advID]
	status := StatusSuccess
	if !ok {
		status = StatusInvalidParameters
	} else {
		set.advData = cloneBytes(data)
	}
	cb := c.advCb
	c.mu.Unlock()

	c.complete(func() {
		if cb != nil {
			cb.OnAdvertisingDataSet(advID, status)
		}
	})
}

func (c *VirtualController) SetPeriodicData(advID uint8, data []byte) {
	c.mu.Lock()
	set, ok := c.sets[advID]
	status := StatusSuccess
	if !ok {
		status = StatusInvalidParameters
	} else {
		set.periodicData = cloneBytes(data)
	}
	cb := c.advCb
	c.mu.Unlock()

	c.complete(func() {
		if cb != nil {
			cb.OnPeriodicDataSet(advID, status)
		}
	})
}

func (c *VirtualController) GetOwnAddress(advID uint8, cb func(addrType uint8, addr Address)) {
	c.mu.Lock()
	addr := c.ownAddr
	c.mu.Unlock()

	c.log.Debug("own address requested", "adv_id", advID)
	c.complete(func() {
		cb(OwnAddressRandom, addr)
	})
}

func (c *VirtualController) Unregister(advID uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, advID)
	c.log.Debug("advertising set unregistered", "adv_id", advID)
}

func (c *VirtualController) CreateBig(params BigCreateParams) {
	c.mu.Lock()
	status := StatusSuccess
	if c.faults.CreateBig != 0 {
		status = c.faults.CreateBig
	}
	var handles []uint16
	if status == StatusSuccess {
		handles = make([]uint16, params.NumBis)
		for i := range handles {
			handles[i] = c.nextConn
			c.handleBig[c.nextConn] = params.AdvHandle
			c.nextConn++
		}
		c.bigs[params.AdvHandle] = handles
	}
	cb := c.bigCb
	c.mu.Unlock()

	c.log.Debug("big create", "big_id", params.AdvHandle, "num_bis", params.NumBis,
		"encrypted", params.Encrypted, "status", status)
	evt := BigCreateComplete{
		Status:             status,
		BigID:              params.AdvHandle,
		BigSyncDelayUs:     params.SduIntervalUs,
		TransportLatencyUs: uint32(params.MaxTransportLatency) * 1000,
		Phy:                params.Phy,
		Nse:                3,
		Bn:                 1,
		Pto:                0,
		Irc:                3,
		MaxPdu:             params.MaxSdu,
		IsoInterval:        uint16(params.SduIntervalUs / 1250),
		ConnHandles:        handles,
	}
	c.complete(func() {
		if cb != nil {
			cb.OnBigCreated(evt)
		}
	})
}

func (c *VirtualController) TerminateBig(bigID uint8, reason uint8) {
	c.mu.Lock()
	for _, h := range c.bigs[bigID] {
		delete(c.handleBig, h)
		delete(c.paths, h)
	}
	delete(c.bigs, bigID)
	cb := c.bigCb
	c.mu.Unlock()

	c.log.Debug("big terminate", "big_id", bigID, "reason", reason)
	c.complete(func() {
		if cb != nil {
			cb.OnBigTerminated(BigTerminateComplete{BigID: bigID, Reason: reason})
		}
	})
}

func (c *VirtualController) SetupIsoDataPath(connHandle uint16, params DataPathParams) {
	c.mu.Lock()
	bigID, known := c.handleBig[connHandle]
	status := StatusSuccess
	switch {
	case !known:
		status = StatusUnknownConnectionID
	case c.faults.SetupPath != 0:
		status = c.faults.SetupPath
	default:
		c.paths[connHandle] |= directionBit(params.Direction)
	}
	cb := c.bigCb
	c.mu.Unlock()

	c.log.Debug("iso data path setup", "conn_handle", connHandle, "status", status)
	c.complete(func() {
		if cb != nil {
			cb.OnSetupIsoDataPath(status, connHandle, bigID)
		}
	})
}

func (c *VirtualController) RemoveIsoDataPath(connHandle uint16, directionMask uint8) {
	c.mu.Lock()
	bigID, known := c.handleBig[connHandle]
	status := StatusSuccess
	switch {
	case !known:
		status = StatusUnknownConnectionID
	case c.faults.RemovePath != 0:
		status = c.faults.RemovePath
	case c.paths[connHandle]&directionMask == 0:
		status = StatusInvalidParameters
	default:
		c.paths[connHandle] &^= directionMask
	}
	cb := c.bigCb
	c.mu.Unlock()

	c.log.Debug("iso data path remove", "conn_handle", connHandle, "status", status)
	c.complete(func() {
		if cb != nil {
			cb.OnRemoveIsoDataPath(status, connHandle, bigID)
		}
	})
}

// SendIsoData accepts one SDU for a connection handle that has an input
// data path. Synchronous, unlike the command-style operations.
func (c *VirtualController) SendIsoData(connHandle uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handleBig[connHandle]; !ok {
		return fmt.Errorf("send iso data: unknown connection handle 0x%04x", connHandle)
	}
	if c.paths[connHandle]&RemoveDataPathInput == 0 {
		return fmt.Errorf("send iso data: no input data path on handle 0x%04x", connHandle)
	}
	c.sduCount++
	c.sduBytes += uint64(len(data))
	return nil
}

func (c *VirtualController) complete(fn func()) {
	c.mu.Lock()
	prev := c.lastDone
	done := make(chan struct{})
	c.lastDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if c.delay > 0 {
			time.Sleep(c.delay)
		}
		fn()
	}()
}

func directionBit(direction uint8) uint8 {
	if direction == DataPathDirectionOutput {
		return RemoveDataPathOutput
	}
	return RemoveDataPathInput
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
