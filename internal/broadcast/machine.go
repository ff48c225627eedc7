package broadcast

import (
	"fmt"
	"log/slog"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/hci"
)

// State is the lifecycle state of a single broadcast.
type State uint8

const (
	StateStopped State = iota
	StateConfiguring
	StateConfigured
	StateStopping
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateConfiguring:
		return "CONFIGURING"
	case StateConfigured:
		return "CONFIGURED"
	case StateStopping:
		return "STOPPING"
	case StateStreaming:
		return "STREAMING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Message is a command posted to a broadcast state machine.
type Message uint8

const (
	MessageStart Message = iota
	MessageSuspend
	MessageStop
)

func (m Message) String() string {
	switch m {
	case MessageStart:
		return "START"
	case MessageSuspend:
		return "SUSPEND"
	case MessageStop:
		return "STOP"
	default:
		return fmt.Sprintf("Message(%d)", uint8(m))
	}
}

// BroadcastID identifies a broadcast. Valid values fit in 24 bits and are
// never zero.
type BroadcastID uint32

// BroadcastIDInvalid marks operations that could not be bound to a
// broadcast.
const BroadcastIDInvalid BroadcastID = 0

func (id BroadcastID) String() string {
	return fmt.Sprintf("0x%06X", uint32(id))
}

// Periodic advertising interval bounds, in 1.25 ms units.
const (
	PaIntervalMin uint16 = 0x0050 // 100 ms
	PaIntervalMax uint16 = 0x00A0 // 200 ms
)

// Extended advertising parameters for the announcement set. Intervals are
// in 0.625 ms units.
const (
	advIntervalMin = 0x00A0 // 100 ms
	advIntervalMax = 0x0140 // 200 ms
	advTxPowerDbm  = 8
	advChannelAll  = 0x07 // channels 37, 38 and 39
)

// MachineConfig is the immutable part of a broadcast: its identity, the
// announcements to advertise and the stream configuration for the BIG.
type MachineConfig struct {
	IsPublic     bool
	Name         string
	BroadcastID  BroadcastID
	StreamingPhy uint8
	Config       Configuration
	// Code enables BIG encryption when non-nil.
	Code               *[16]byte
	Announcement       announce.BasicAudioAnnouncement
	PublicAnnouncement announce.PublicBroadcastAnnouncement
	// PaIntervalMin and PaIntervalMax override the periodic advertising
	// interval bounds when non-zero. Units of 1.25 ms.
	PaIntervalMin uint16
	PaIntervalMax uint16
}

// MachineCallbacks receives state machine notifications. Calls are made
// from whichever goroutine drove the machine, including controller
// completion goroutines.
type MachineCallbacks interface {
	// OnCreateStatus reports whether the announcement was brought up.
	OnCreateStatus(id BroadcastID, ok bool)
	// OnStateEvent reports every externally visible state transition.
	OnStateEvent(id BroadcastID, state State)
	// OnBigCreated delivers the BIS connection handles of a new BIG.
	OnBigCreated(id BroadcastID, connHandles []uint16)
	// OnOwnAddress delivers the set address, fetched once after creation
	// and again on each RequestOwnAddress call.
	OnOwnAddress(id BroadcastID, addrType uint8, addr hci.Address)
	// OnDestroyed reports that Close finished.
	OnDestroyed(id BroadcastID)
}

// Machine runs the lifecycle of one broadcast: announcement bring-up, BIG
// creation, sequential ISO data path setup and the reverse teardown
// ladder.
//
// A machine is not safe for concurrent use. The manager serializes all
// calls, controller completions included.
type Machine struct {
	log *slog.Logger
	adv hci.Advertiser
	iso hci.Iso
	cb  MachineCallbacks

	cfg MachineConfig

	state      State
	suspending bool
	muted      bool

	advSID   uint8
	addr     hci.Address
	addrType uint8

	// bigConfig holds the controller parameters of the active BIG; nil
	// outside the created window.
	bigConfig *hci.BigCreateComplete
}

// NewMachine returns a machine in the STOPPED state. Initialize starts the
// announcement bring-up.
func NewMachine(cfg MachineConfig, adv hci.Advertiser, iso hci.Iso, cb MachineCallbacks, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		log:    log.With("broadcast_id", cfg.BroadcastID),
		adv:    adv,
		iso:    iso,
		cb:     cb,
		cfg:    cfg,
		advSID: hci.AdvertiserIDInvalid,
	}
}

// Initialize validates the stream configuration and starts the advertising
// set. It returns false when the BIS count cannot fit a single BIG; the
// asynchronous outcome otherwise arrives through OnCreateStatus.
func (m *Machine) Initialize() bool {
	if n := m.cfg.Config.NumBisTotal(); n > hci.MaxBisPerBig {
		m.log.Error("stream count exceeds the BIG limit",
			"num_bis", n, "max", hci.MaxBisPerBig)
		return false
	}
	m.createBroadcastAnnouncement()
	return true
}

func (m *Machine) createBroadcastAnnouncement() {
	m.log.Info("creating broadcast announcement",
		"public", m.cfg.IsPublic,
		"name", m.cfg.Name,
		"public_features", m.cfg.PublicAnnouncement.Features)

	advData := announce.EncodeAdvertisingData(
		uint32(m.cfg.BroadcastID), m.cfg.IsPublic, m.cfg.Name, m.cfg.PublicAnnouncement)
	periodicData := announce.EncodePeriodicData(&m.cfg.Announcement)

	params := hci.AdvertiseParams{
		Properties:     0,
		MinInterval:    advIntervalMin,
		MaxInterval:    advIntervalMax,
		ChannelMap:     advChannelAll,
		TxPower:        advTxPowerDbm,
		PrimaryPhy:     hci.Phy1M,
		SecondaryPhy:   m.cfg.StreamingPhy,
		OwnAddressType: hci.OwnAddressRandom,
	}
	periodic := hci.PeriodicParams{
		Enable:      true,
		MinInterval: m.paMin(),
		MaxInterval: m.paMax(),
	}

	// Status arrives on OnCreateAnnouncement together with the
	// advertiser ID used for every later command.
	m.adv.StartAdvertisingSet(params, advData, periodic, periodicData)
}

func (m *Machine) paMin() uint16 {
	if m.cfg.PaIntervalMin != 0 {
		return m.cfg.PaIntervalMin
	}
	return PaIntervalMin
}

func (m *Machine) paMax() uint16 {
	if m.cfg.PaIntervalMax != 0 {
		return m.cfg.PaIntervalMax
	}
	return PaIntervalMax
}

// ProcessMessage dispatches a command against the current state. Commands
// that do not apply in the current state are ignored.
func (m *Machine) ProcessMessage(msg Message) {
	m.log.Info("processing message", "message", msg, "state", m.state)
	switch msg {
	case MessageStart:
		m.handleStart()
	case MessageSuspend:
		m.handleSuspend()
	case MessageStop:
		m.handleStop()
	}
}

func (m *Machine) handleStart() {
	switch m.state {
	case StateStopped:
		m.setState(StateConfiguring)
		m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
		m.enableAnnouncement()
	case StateConfigured:
		m.createBig()
	}
}

func (m *Machine) handleSuspend() {
	if m.state != StateStreaming {
		return
	}
	if m.bigConfig == nil || m.suspending {
		return
	}
	m.suspending = true
	m.triggerIsoDatapathTeardown(m.bigConfig.ConnHandles[0])
}

func (m *Machine) handleStop() {
	switch m.state {
	case StateConfigured:
		m.setState(StateStopping)
		m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
		m.disableAnnouncement()
	case StateStreaming:
		if m.bigConfig == nil || m.suspending {
			return
		}
		m.setState(StateStopping)
		m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
		m.triggerIsoDatapathTeardown(m.bigConfig.ConnHandles[0])
	}
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	m.log.Debug("state changed", "from", m.state, "to", s)
	m.state = s
}

// OnCreateAnnouncement completes the advertising set bring-up. The
// advertiser ID is valid and recorded even when the status reports a
// failure.
func (m *Machine) OnCreateAnnouncement(advSID uint8, txPower int8, status uint8) {
	m.log.Info("announcement created",
		"adv_sid", advSID, "tx_power", txPower, "status", status)

	m.advSID = advSID

	if status != hci.StatusSuccess {
		m.log.Error("creating announcement failed", "status", status)
		m.cb.OnCreateStatus(m.cfg.BroadcastID, false)
		return
	}

	// Extended advertising is already running.
	m.setState(StateConfigured)

	m.cb.OnCreateStatus(m.cfg.BroadcastID, true)
	m.cb.OnStateEvent(m.cfg.BroadcastID, StateConfigured)

	m.RequestOwnAddress()
}

// recordOwnAddress stores the set address once the serialized address
// completion comes back through the callbacks.
func (m *Machine) recordOwnAddress(addrType uint8, addr hci.Address) {
	m.log.Info("own address", "addr", addr, "addr_type", addrType)
	m.addr = addr
	m.addrType = addrType
}

// OnEnableAnnouncement completes an announcement enable or disable
// request.
func (m *Machine) OnEnableAnnouncement(enable bool, status uint8) {
	op := "disable"
	if enable {
		op = "enable"
	}
	m.log.Info("announcement toggled", "operation", op, "status", status)

	if status == hci.StatusSuccess {
		if enable {
			// Periodic advertising runs without BIGInfo yet. The
			// target is always STREAMING, so keep going.
			m.setState(StateConfigured)
			m.ProcessMessage(MessageStart)
		} else {
			m.setState(StateStopped)
			m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
		}
		return
	}

	if enable {
		m.setState(StateStopped)
	} else {
		m.setState(StateConfigured)
	}
	m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
}

// RequestOwnAddress asks the advertiser for the current set address and
// answers through OnOwnAddress.
func (m *Machine) RequestOwnAddress() {
	id := m.cfg.BroadcastID
	m.adv.GetOwnAddress(m.advSID, func(addrType uint8, addr hci.Address) {
		m.cb.OnOwnAddress(id, addrType, addr)
	})
}

// UpdateBroadcastAnnouncement replaces the basic audio announcement and
// pushes the new periodic advertising payload.
func (m *Machine) UpdateBroadcastAnnouncement(a announce.BasicAudioAnnouncement) {
	periodicData := announce.EncodePeriodicData(&a)
	m.cfg.Announcement = a
	m.adv.SetPeriodicData(m.advSID, periodicData)
}

// UpdatePublicBroadcastAnnouncement replaces the public announcement and
// broadcast name and pushes the new extended advertising payload.
func (m *Machine) UpdatePublicBroadcastAnnouncement(name string, pub announce.PublicBroadcastAnnouncement) {
	advData := announce.EncodeAdvertisingData(uint32(m.cfg.BroadcastID), true, name, pub)
	m.cfg.Name = name
	m.cfg.PublicAnnouncement = pub
	m.adv.SetData(m.advSID, advData)
}

func (m *Machine) enableAnnouncement() {
	m.log.Info("enabling announcement")
	// Completion arrives on OnEnableAnnouncement.
	m.adv.Enable(m.advSID, true)
}

func (m *Machine) disableAnnouncement() {
	m.log.Info("disabling announcement")
	// Completion arrives on OnEnableAnnouncement.
	m.adv.Enable(m.advSID, false)
}

func (m *Machine) createBig() {
	m.log.Info("creating BIG")

	params := hci.BigCreateParams{
		AdvHandle:           m.advSID,
		NumBis:              m.cfg.Config.NumBisTotal(),
		SduIntervalUs:       m.cfg.Config.SduIntervalUs,
		MaxSdu:              m.cfg.Config.MaxSduOctets,
		MaxTransportLatency: m.cfg.Config.Qos.MaxTransportLatency,
		Rtn:                 m.cfg.Config.Qos.RetransmissionNumber,
		Phy:                 m.cfg.StreamingPhy,
		Packing:             0x00, // sequential
		Framing:             0x00, // unframed
	}
	if m.cfg.Code != nil {
		params.Encrypted = true
		params.BroadcastCode = *m.cfg.Code
	}
	m.iso.CreateBig(params)
}

func (m *Machine) terminateBig() {
	m.log.Info("terminating BIG", "suspending", m.suspending)
	m.iso.TerminateBig(m.advSID, hci.ReasonLocalHostTerminated)
}

// OnBigCreateComplete handles the BIG create completion. Events for other
// BIGs are ignored.
func (m *Machine) OnBigCreateComplete(evt hci.BigCreateComplete) {
	if evt.BigID != m.advSID {
		m.log.Error("BIG create complete for another BIG", "big_id", evt.BigID)
		return
	}
	if evt.Status != hci.StatusSuccess {
		m.log.Error("failed to create BIG", "big_id", evt.BigID, "status", evt.Status)
		return
	}

	cfg := evt
	m.bigConfig = &cfg
	m.cb.OnBigCreated(m.cfg.BroadcastID, evt.ConnHandles)

	// Data paths are set up one BIS at a time; each completion triggers
	// the next handle.
	m.triggerIsoDatapathSetup(evt.ConnHandles[0])
}

// OnBigTerminateComplete handles the BIG terminate completion. A suspend
// keeps the announcement running; a stop disables it next.
func (m *Machine) OnBigTerminateComplete(evt hci.BigTerminateComplete) {
	if evt.BigID != m.advSID {
		m.log.Error("BIG terminate complete for another BIG", "big_id", evt.BigID)
		return
	}
	m.log.Info("BIG terminated", "big_id", evt.BigID, "reason", evt.Reason)

	m.bigConfig = nil
	m.setState(StateConfigured)

	if m.suspending {
		m.suspending = false
		m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
	} else {
		m.disableAnnouncement()
	}
}

// OnSetupIsoDataPath advances the setup ladder: next handle on success,
// STREAMING after the last one, BIG teardown on failure.
func (m *Machine) OnSetupIsoDataPath(status uint8, connHandle uint16) {
	if m.bigConfig == nil {
		m.log.Error("data path setup completion without an active BIG",
			"conn_handle", connHandle)
		return
	}

	if status != hci.StatusSuccess {
		m.log.Error("failure creating data path, tearing down the BIG",
			"conn_handle", connHandle, "status", status)
		m.suspending = true
		m.terminateBig()
		return
	}

	next, last, ok := m.nextHandle(connHandle)
	if !ok {
		m.log.Error("data path setup completion for unknown handle",
			"conn_handle", connHandle)
		return
	}
	if last {
		m.setState(StateStreaming)
		m.cb.OnStateEvent(m.cfg.BroadcastID, m.state)
		return
	}
	m.log.Info("more data paths to set up")
	m.triggerIsoDatapathSetup(next)
}

// OnRemoveIsoDataPath advances the teardown ladder: next handle on
// success, BIG termination after the last one and on failure.
func (m *Machine) OnRemoveIsoDataPath(status uint8, connHandle uint16) {
	if m.bigConfig == nil {
		m.log.Error("data path removal completion without an active BIG",
			"conn_handle", connHandle)
		return
	}

	if status != hci.StatusSuccess {
		m.log.Error("failure removing data path, tearing down the BIG",
			"conn_handle", connHandle, "status", status)
		m.terminateBig()
		return
	}

	next, last, ok := m.nextHandle(connHandle)
	if !ok {
		m.log.Error("data path removal completion for unknown handle",
			"conn_handle", connHandle)
		return
	}
	if last {
		m.terminateBig()
		return
	}
	m.log.Info("more data paths to tear down")
	m.triggerIsoDatapathTeardown(next)
}

// nextHandle locates connHandle in the active BIG and returns its
// successor. last reports that connHandle was the final handle, ok that it
// was present at all.
func (m *Machine) nextHandle(connHandle uint16) (next uint16, last bool, ok bool) {
	handles := m.bigConfig.ConnHandles
	for i, h := range handles {
		if h != connHandle {
			continue
		}
		if i == len(handles)-1 {
			return 0, true, true
		}
		return handles[i+1], false, true
	}
	return 0, false, false
}

func (m *Machine) triggerIsoDatapathSetup(connHandle uint16) {
	m.log.Info("setting up ISO data path", "conn_handle", connHandle)

	dp := &m.cfg.Config.DataPath
	params := hci.DataPathParams{
		Direction:         hci.DataPathDirectionInput,
		DataPathID:        dp.DataPathID,
		ControllerDelayUs: dp.IsoDataPath.ControllerDelayUs,
		CodecConfig:       dp.IsoDataPath.Configuration,
	}
	// Controllers ignore the company and vendor fields for the
	// transparent coding format.
	if dp.IsoDataPath.IsTransparent {
		params.CodingFormat = hci.CodingFormatTransparent
	} else {
		params.CodingFormat = dp.IsoDataPath.Codec.CodingFormat
		params.CompanyID = dp.IsoDataPath.Codec.VendorCompanyID
		params.VendorCodecID = dp.IsoDataPath.Codec.VendorCodecID
	}
	m.iso.SetupIsoDataPath(connHandle, params)
}

func (m *Machine) triggerIsoDatapathTeardown(connHandle uint16) {
	m.log.Info("tearing down ISO data path", "conn_handle", connHandle)

	m.SetMuted(true)
	m.iso.RemoveIsoDataPath(connHandle, hci.RemoveDataPathInput)
}

// Close tears down the broadcast. A streaming BIG is terminated first; the
// advertising set is always unregistered.
func (m *Machine) Close() {
	if m.state == StateStreaming {
		m.terminateBig()
	}
	m.adv.Unregister(m.advSID)
	m.cb.OnDestroyed(m.cfg.BroadcastID)
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// BroadcastID returns the broadcast identifier.
func (m *Machine) BroadcastID() BroadcastID { return m.cfg.BroadcastID }

// AdvertisingSID returns the advertiser ID of the announcement set, or
// hci.AdvertiserIDInvalid before creation completed.
func (m *Machine) AdvertisingSID() uint8 { return m.advSID }

// OwnAddress returns the advertising set address recorded at creation.
func (m *Machine) OwnAddress() hci.Address { return m.addr }

// OwnAddressType returns the address type recorded at creation.
func (m *Machine) OwnAddressType() uint8 { return m.addrType }

// Code returns the broadcast code when the BIG is encrypted.
func (m *Machine) Code() ([16]byte, bool) {
	if m.cfg.Code == nil {
		return [16]byte{}, false
	}
	return *m.cfg.Code, true
}

// IsPublic reports whether the broadcast carries a public announcement.
func (m *Machine) IsPublic() bool { return m.cfg.IsPublic }

// Name returns the broadcast name.
func (m *Machine) Name() string { return m.cfg.Name }

// Announcement returns the current basic audio announcement.
func (m *Machine) Announcement() announce.BasicAudioAnnouncement {
	return m.cfg.Announcement
}

// PublicAnnouncement returns the current public broadcast announcement.
func (m *Machine) PublicAnnouncement() announce.PublicBroadcastAnnouncement {
	return m.cfg.PublicAnnouncement
}

// Config returns the stream configuration.
func (m *Machine) Config() Configuration { return m.cfg.Config }

// BigConfig returns the controller parameters of the active BIG.
func (m *Machine) BigConfig() (hci.BigCreateComplete, bool) {
	if m.bigConfig == nil {
		return hci.BigCreateComplete{}, false
	}
	return *m.bigConfig, true
}

// PaInterval returns the upper periodic advertising interval bound in
// 1.25 ms units.
func (m *Machine) PaInterval() uint16 { return m.paMax() }

// SetMuted mutes or unmutes audio dispatch for this broadcast.
func (m *Machine) SetMuted(muted bool) { m.muted = muted }

// IsMuted reports whether audio dispatch is muted.
func (m *Machine) IsMuted() bool { return m.muted }
