package broadcast

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/hci"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/metrics"
)

// All announcements advertise the same presentation delay.
const presentationDelayUs = 40000

// Subgroup audio quality preferences.
const (
	QualityStandard uint8 = iota
	QualityHigh
)

// Errors reported synchronously by manager operations. Completion results
// still arrive through the EventSink.
var (
	// ErrClosed is returned once Close has run.
	ErrClosed = errors.New("broadcast manager is closed")
	// ErrNotFound is returned for operations on an unknown broadcast.
	ErrNotFound = errors.New("no such broadcast")
	// ErrBusy is returned while a conflicting request or stream is active.
	ErrBusy = errors.New("conflicting broadcast activity")
)

// CreateRequest describes a broadcast to create.
type CreateRequest struct {
	IsPublic bool
	Name     string
	// Code enables BIG encryption when non-nil.
	Code *[16]byte
	// PublicMetadata is an LTV blob for the public broadcast
	// announcement. Ignored unless IsPublic is set.
	PublicMetadata []byte
	// SubgroupQuality holds one quality preference per subgroup.
	SubgroupQuality []uint8
	// SubgroupMetadata holds one LTV metadata blob per subgroup.
	SubgroupMetadata [][]byte
}

// BroadcastMetadata is a point-in-time snapshot of one broadcast.
type BroadcastMetadata struct {
	BroadcastID        BroadcastID
	IsPublic           bool
	Name               string
	State              State
	AdvertisingSID     uint8
	PaInterval         uint16
	Addr               hci.Address
	AddrType           uint8
	Encrypted          bool
	Code               [16]byte
	Announcement       announce.BasicAudioAnnouncement
	PublicAnnouncement announce.PublicBroadcastAnnouncement
}

// EventSink receives broadcast lifecycle notifications. Methods are called
// with the manager lock held and must not call back into the Manager.
type EventSink interface {
	OnBroadcastCreated(id BroadcastID, ok bool)
	OnBroadcastDestroyed(id BroadcastID)
	OnBroadcastStateChanged(id BroadcastID, state State)
	OnBroadcastMetadataChanged(id BroadcastID, meta BroadcastMetadata)
}

type nopSink struct{}

func (nopSink) OnBroadcastCreated(BroadcastID, bool) {}

func (nopSink) OnBroadcastDestroyed(BroadcastID) {}

func (nopSink) OnBroadcastStateChanged(BroadcastID, State) {}

func (nopSink) OnBroadcastMetadataChanged(BroadcastID, BroadcastMetadata) {}

// AudioSource feeds PCM frames into the manager. Start begins delivery of
// interval-sized buffers in the given format; deliver runs on the source's
// own goroutine, never synchronously from Start. Stop is idempotent and
// only signals delivery to cease, without waiting for an in-flight deliver
// call to return.
type AudioSource interface {
	Start(format AudioFormat, deliver func(pcm []byte)) error
	Stop()
}

// Params bundles the manager dependencies and tunables.
type Params struct {
	Advertiser hci.Advertiser
	Iso        hci.Iso

	// Source is the PCM producer. Optional; without one broadcasts
	// stream silence.
	Source AudioSource
	// Sink receives lifecycle events. Optional.
	Sink EventSink
	// Metrics receives counters and gauges. Optional.
	Metrics *metrics.Metrics

	// StreamingPhy is the secondary advertising and BIS PHY. Zero
	// selects 2M.
	StreamingPhy uint8
	// ConfigOverride forces a named configuration preset for every
	// broadcast, bypassing context-based selection.
	ConfigOverride string
	// PaIntervalMin and PaIntervalMax override the periodic advertising
	// interval bounds when non-zero. Units of 1.25 ms.
	PaIntervalMin uint16
	PaIntervalMax uint16
}

// Manager owns every broadcast state machine and routes controller
// completions to them. It also splits incoming PCM across the BIS handles
// of each streaming broadcast.
type Manager struct {
	logger  *slog.Logger
	adv     hci.Advertiser
	iso     hci.Iso
	source  AudioSource
	sink    EventSink
	metrics *metrics.Metrics

	mu sync.RWMutex

	// Created broadcasts by identifier.
	broadcasts map[BroadcastID]*Machine
	// Broadcasts between Initialize and the create completion.
	pending []*Machine

	// Requests deferred while other ISO traffic is running.
	queuedCreate *MachineConfig
	queuedStart  BroadcastID

	// Content control identifiers by audio context bit.
	ccids map[announce.AudioContext]uint8

	// Own-address waiters by broadcast identifier.
	addrWaiters map[BroadcastID][]func(addrType uint8, addr hci.Address)

	// PCM channel layout of the currently streamed configuration.
	dispatchConfig *Configuration

	availableIDs   []BroadcastID
	currentPhy     uint8
	configOverride string
	paIntervalMin  uint16
	paIntervalMax  uint16
	isoRunning     bool
	closed         bool
}

// NewManager creates a broadcast manager and registers it with the
// controller interfaces.
func NewManager(logger *slog.Logger, p Params) (*Manager, error) {
	if p.Advertiser == nil || p.Iso == nil {
		return nil, errors.New("broadcast: advertiser and iso controller are required")
	}
	if p.ConfigOverride != "" {
		if _, ok := PresetByName(p.ConfigOverride); !ok {
			return nil, fmt.Errorf("broadcast: unknown configuration preset %q", p.ConfigOverride)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	sink := p.Sink
	if sink == nil {
		sink = nopSink{}
	}
	phy := p.StreamingPhy
	if phy == 0 {
		phy = hci.Phy2M
	}

	m := &Manager{
		logger:         logger,
		adv:            p.Advertiser,
		iso:            p.Iso,
		source:         p.Source,
		sink:           sink,
		metrics:        p.Metrics,
		broadcasts:     make(map[BroadcastID]*Machine),
		ccids:          make(map[announce.AudioContext]uint8),
		addrWaiters:    make(map[BroadcastID][]func(uint8, hci.Address)),
		currentPhy:     phy,
		configOverride: p.ConfigOverride,
		paIntervalMin:  p.PaIntervalMin,
		paIntervalMax:  p.PaIntervalMax,
	}
	m.generateBroadcastIDsLocked()

	m.adv.RegisterCallbacks(&advCallbacks{m})
	m.iso.RegisterBigCallbacks(&bigCallbacks{m})
	return m, nil
}

// Close destroys all broadcasts and drops any queued requests. Controller
// completions arriving afterwards are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	if m.source != nil {
		m.source.Stop()
	}
	m.queuedCreate = nil
	m.queuedStart = BroadcastIDInvalid

	for id, mach := range m.broadcasts {
		delete(m.broadcasts, id)
		mach.Close()
	}
	for _, mach := range m.pending {
		mach.Close()
	}
	m.pending = nil

	if m.metrics != nil {
		m.metrics.SetActiveBroadcasts(0)
		m.metrics.SetStreamingBroadcasts(0)
	}
}

// CreateBroadcast validates the request and brings a new broadcast up to
// CONFIGURED, returning the identifier assigned to it. The outcome arrives
// on EventSink.OnBroadcastCreated; while other ISO traffic is running the
// creation is queued.
func (m *Manager) CreateBroadcast(req CreateRequest) (BroadcastID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("creating broadcast",
		"name", req.Name,
		"public", req.IsPublic,
		"subgroups", len(req.SubgroupMetadata))

	if m.closed {
		m.logger.Error("manager is closed")
		m.createFailedLocked()
		return BroadcastIDInvalid, ErrClosed
	}
	if m.queuedCreate != nil {
		m.logger.Error("previous broadcast creation still queued")
		m.createFailedLocked()
		return BroadcastIDInvalid, fmt.Errorf("%w: previous creation still queued", ErrBusy)
	}

	var features uint8
	var publicLtv *ltv.Map
	if req.IsPublic {
		var err error
		publicLtv, err = ltv.Parse(req.PublicMetadata)
		if err != nil {
			m.logger.Error("invalid public metadata", "error", err)
			m.createFailedLocked()
			return BroadcastIDInvalid, fmt.Errorf("invalid public metadata: %w", err)
		}
		if req.Code != nil {
			features |= announce.PublicFeatureEncrypted
		}
	}

	id := m.popBroadcastIDLocked()
	if id == BroadcastIDInvalid {
		m.logger.Error("no broadcast identifiers available")
		m.createFailedLocked()
		return BroadcastIDInvalid, errors.New("no broadcast identifiers available")
	}

	for _, q := range req.SubgroupQuality {
		switch q {
		case QualityStandard:
			features |= announce.PublicFeatureStandardQuality
		case QualityHigh:
			features |= announce.PublicFeatureHighQuality
		}
	}

	// The last subgroup carrying a streaming context wins the
	// configuration selection.
	contextType := announce.ContextMedia
	subgroupLtvs := make([]*ltv.Map, 0, len(req.SubgroupMetadata))
	for _, md := range req.SubgroupMetadata {
		lv, err := ltv.Parse(md)
		if err != nil {
			m.logger.Error("invalid subgroup metadata", "error", err)
			m.createFailedLocked()
			return BroadcastIDInvalid, fmt.Errorf("invalid subgroup metadata: %w", err)
		}
		if v, ok := lv.Find(announce.MetadataTypeStreamingAudioContext); ok {
			if len(v) < 2 {
				m.logger.Error("streaming audio context shorter than two octets")
				m.createFailedLocked()
				return BroadcastIDInvalid, errors.New("streaming audio context shorter than two octets")
			}
			contextType = announce.AudioContext(uint16(v[0]) | uint16(v[1])<<8)
		}
		if ccids := m.ccidsForLocked(contextType); len(ccids) > 0 {
			lv.Add(announce.MetadataTypeCcidList, ccids)
		}
		subgroupLtvs = append(subgroupLtvs, lv)
	}

	cfg := m.configForLocked(contextType)

	if features&announce.PublicFeatureHighQuality != 0 && cfg.MaxSamplingFrequencyHz() < 48000 {
		m.logger.Warn("high audio quality not supported, falling back to standard quality")
		features &^= announce.PublicFeatureHighQuality
		features |= announce.PublicFeatureStandardQuality
	}

	mc := MachineConfig{
		IsPublic:      req.IsPublic,
		Name:          req.Name,
		BroadcastID:   id,
		StreamingPhy:  m.currentPhy,
		Config:        cfg,
		Code:          req.Code,
		Announcement:  prepareBasicAnnouncement(cfg.Subgroups, subgroupLtvs),
		PaIntervalMin: m.paIntervalMin,
		PaIntervalMax: m.paIntervalMax,
	}
	if req.IsPublic {
		mc.PublicAnnouncement = preparePublicAnnouncement(features, publicLtv)
	}

	// Ongoing ISO traffic might be a unicast stream; defer until it ends.
	if m.isoRunning {
		m.logger.Info("ISO traffic still active, queueing broadcast creation",
			"broadcast_id", id)
		m.queuedCreate = &mc
		return id, nil
	}

	m.instantiateLocked(mc)
	return id, nil
}

func (m *Manager) createFailedLocked() {
	if m.metrics != nil {
		m.metrics.RecordBroadcastCreateFailed()
	}
	m.sink.OnBroadcastCreated(BroadcastIDInvalid, false)
}

func (m *Manager) instantiateLocked(mc MachineConfig) {
	m.logger.Info("instantiating broadcast", "broadcast_id", mc.BroadcastID)

	mach := NewMachine(mc, m.adv, m.iso, &machineCallbacks{m}, m.logger)
	m.pending = append(m.pending, mach)
	if !mach.Initialize() {
		m.pending = m.pending[:len(m.pending)-1]
		m.createFailedLocked()
	}
}

// Start requests streaming. While other ISO traffic is running the start
// is queued; only one broadcast may stream at a time.
func (m *Manager) Start(id BroadcastID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("starting broadcast", "broadcast_id", id)

	if m.queuedStart != BroadcastIDInvalid {
		m.logger.Error("previous start request still queued",
			"queued_broadcast_id", m.queuedStart)
		return fmt.Errorf("%w: previous start request still queued", ErrBusy)
	}
	if m.isoRunning {
		m.logger.Info("ISO traffic still active, queueing broadcast start",
			"broadcast_id", id)
		m.queuedStart = id
		return nil
	}
	return m.startLocked(id)
}

func (m *Manager) startLocked(id BroadcastID) error {
	if m.streamerCountLocked() > 0 {
		m.logger.Error("another broadcast is streaming, stop it first",
			"broadcast_id", id)
		return fmt.Errorf("%w: another broadcast is streaming", ErrBusy)
	}
	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		return ErrNotFound
	}
	mach.ProcessMessage(MessageStart)
	return nil
}

// Stop halts streaming and disables the announcement; the broadcast ends
// up STOPPED and can be started again.
func (m *Manager) Stop(id BroadcastID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(id)
}

func (m *Manager) stopLocked(id BroadcastID) error {
	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		return ErrNotFound
	}
	m.logger.Info("stopping broadcast", "broadcast_id", id)

	if m.source != nil {
		m.source.Stop()
	}
	mach.SetMuted(true)
	mach.ProcessMessage(MessageStop)
	return nil
}

// Suspend halts streaming but keeps the announcement running; the
// broadcast ends up CONFIGURED.
func (m *Manager) Suspend(id BroadcastID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		return ErrNotFound
	}
	m.logger.Info("suspending broadcast", "broadcast_id", id)

	if m.source != nil {
		m.source.Stop()
	}
	mach.SetMuted(true)
	mach.ProcessMessage(MessageSuspend)
	return nil
}

// Destroy tears the broadcast down completely. A streaming BIG is
// terminated first.
func (m *Manager) Destroy(id BroadcastID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		return ErrNotFound
	}
	m.logger.Info("destroying broadcast", "broadcast_id", id)

	delete(m.broadcasts, id)
	mach.Close()
	return nil
}

// UpdateMetadata replaces the subgroup metadata and, for public
// broadcasts, the name and public announcement metadata. Both
// announcements are rebuilt and re-advertised.
func (m *Manager) UpdateMetadata(id BroadcastID, name string, publicMetadata []byte, subgroupMetadata [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		return ErrNotFound
	}
	m.logger.Info("updating broadcast metadata", "broadcast_id", id)

	subgroupLtvs := make([]*ltv.Map, 0, len(subgroupMetadata))
	for _, md := range subgroupMetadata {
		lv, err := ltv.Parse(md)
		if err != nil {
			m.logger.Error("invalid subgroup metadata", "error", err)
			return fmt.Errorf("invalid subgroup metadata: %w", err)
		}

		contextType := announce.ContextMedia
		if v, ok := lv.Find(announce.MetadataTypeStreamingAudioContext); ok {
			if len(v) < 2 {
				m.logger.Error("streaming audio context shorter than two octets")
				return errors.New("streaming audio context shorter than two octets")
			}
			contextType = announce.AudioContext(uint16(v[0]) | uint16(v[1])<<8)
		}
		if ccids := m.ccidsForLocked(contextType); len(ccids) > 0 {
			lv.Add(announce.MetadataTypeCcidList, ccids)
		}
		subgroupLtvs = append(subgroupLtvs, lv)
	}

	if mach.IsPublic() {
		// Name and public metadata only apply to public broadcasts; the
		// feature bits are kept as negotiated at creation.
		publicLtv, err := ltv.Parse(publicMetadata)
		if err != nil {
			m.logger.Error("invalid public metadata", "error", err)
			return fmt.Errorf("invalid public metadata: %w", err)
		}
		pb := preparePublicAnnouncement(mach.PublicAnnouncement().Features, publicLtv)
		mach.UpdatePublicBroadcastAnnouncement(name, pb)
	}

	cfg := mach.Config()
	mach.UpdateBroadcastAnnouncement(prepareBasicAnnouncement(cfg.Subgroups, subgroupLtvs))

	if meta, found := m.metadataLocked(id); found {
		m.sink.OnBroadcastMetadataChanged(id, meta)
	}
	return nil
}

// Metadata returns a snapshot of one broadcast.
func (m *Manager) Metadata(id BroadcastID) (BroadcastMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadataLocked(id)
}

func (m *Manager) metadataLocked(id BroadcastID) (BroadcastMetadata, bool) {
	mach, ok := m.broadcasts[id]
	if !ok {
		return BroadcastMetadata{}, false
	}
	meta := BroadcastMetadata{
		BroadcastID:        id,
		IsPublic:           mach.IsPublic(),
		Name:               mach.Name(),
		State:              mach.State(),
		AdvertisingSID:     mach.AdvertisingSID(),
		PaInterval:         mach.PaInterval(),
		Addr:               mach.OwnAddress(),
		AddrType:           mach.OwnAddressType(),
		Announcement:       mach.Announcement(),
		PublicAnnouncement: mach.PublicAnnouncement(),
	}
	if code, encrypted := mach.Code(); encrypted {
		meta.Encrypted = true
		meta.Code = code
	}
	return meta, true
}

// States returns the lifecycle state of every created broadcast.
func (m *Manager) States() map[BroadcastID]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[BroadcastID]State, len(m.broadcasts))
	for id, mach := range m.broadcasts {
		out[id] = mach.State()
	}
	return out
}

// IsLocalBroadcast checks whether the given advertiser address belongs to
// this manager's broadcast. The result callback may run on a controller
// goroutine.
func (m *Manager) IsLocalBroadcast(id BroadcastID, addrType uint8, addr hci.Address, result func(isLocal bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mach, ok := m.broadcasts[id]
	if !ok {
		m.logger.Error("no such broadcast", "broadcast_id", id)
		result(false)
		return
	}

	m.addrWaiters[id] = append(m.addrWaiters[id], func(rcvType uint8, rcvAddr hci.Address) {
		result(rcvType == addrType && rcvAddr == addr)
	})
	mach.RequestOwnAddress()
}

// SetStreamingPhy selects the PHY for subsequently created broadcasts.
func (m *Manager) SetStreamingPhy(phy uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPhy = phy
}

// StreamingPhy returns the PHY used for new broadcasts.
func (m *Manager) StreamingPhy() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentPhy
}

// SetContextCcid registers the content control identifier advertised for
// streams matching the given context bit. A negative ccid removes the
// registration.
func (m *Manager) SetContextCcid(ctx announce.AudioContext, ccid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ccid < 0 {
		delete(m.ccids, ctx)
		return
	}
	m.ccids[ctx] = uint8(ccid)
}

// IsoTrafficEvent reports whether non-broadcast ISO traffic is running.
// When it ends, queued start and create requests are executed in that
// order.
func (m *Manager) IsoTrafficEvent(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isoRunning = active
	m.logger.Info("ISO traffic state", "active", active)
	if active {
		return
	}

	if m.queuedStart != BroadcastIDInvalid {
		id := m.queuedStart
		m.queuedStart = BroadcastIDInvalid
		m.logger.Info("starting queued broadcast", "broadcast_id", id)
		m.startLocked(id)
	}
	if m.queuedCreate != nil {
		mc := *m.queuedCreate
		m.queuedCreate = nil
		m.logger.Info("creating queued broadcast", "broadcast_id", mc.BroadcastID)
		m.instantiateLocked(mc)
	}
}

// DispatchAudio splits one interleaved PCM buffer into per-BIS channels
// and sends them on every streaming, unmuted broadcast. Safe to call from
// the audio source goroutine.
func (m *Manager) DispatchAudio(pcm []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.dispatchConfig
	if cfg == nil || len(cfg.Subgroups) == 0 {
		m.logger.Error("audio data without a configured dispatch path")
		return
	}

	// A single subgroup layout drives the channel split for all
	// broadcasts; they all carry the same stream.
	sg := &cfg.Subgroups[0]
	channels := splitChannels(pcm, int(sg.NumBis()), int(sg.BitsPerSample)/8)
	if len(channels) == 0 {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordAudioFrame(len(pcm))
	}

	for _, mach := range m.broadcasts {
		if mach.State() == StateStreaming && !mach.IsMuted() {
			m.sendBroadcastDataLocked(mach, channels)
		}
	}
}

func (m *Manager) sendBroadcastDataLocked(mach *Machine, channels [][]byte) {
	big, ok := mach.BigConfig()
	if !ok {
		m.logger.Error("broadcast has no BIS connection handles",
			"broadcast_id", mach.BroadcastID(), "state", mach.State())
		return
	}
	if len(big.ConnHandles) < len(channels) {
		m.logger.Error("not enough BISes to carry all channels",
			"broadcast_id", mach.BroadcastID(),
			"channels", len(channels), "bises", len(big.ConnHandles))
		return
	}

	for ch, data := range channels {
		if err := m.iso.SendIsoData(big.ConnHandles[ch], data); err != nil {
			m.logger.Error("failed to send ISO data",
				"broadcast_id", mach.BroadcastID(),
				"conn_handle", big.ConnHandles[ch], "error", err)
			if m.metrics != nil {
				m.metrics.RecordIsoSendError()
			}
		}
	}
}

// splitChannels deinterleaves frame-major PCM into one buffer per channel.
// Trailing bytes that do not fill a whole frame are dropped.
func splitChannels(pcm []byte, numChannels, bytesPerSample int) [][]byte {
	if numChannels <= 0 || bytesPerSample <= 0 {
		return nil
	}
	frameSize := numChannels * bytesPerSample
	numFrames := len(pcm) / frameSize
	if numFrames == 0 {
		return nil
	}

	channels := make([][]byte, numChannels)
	for ch := range channels {
		channels[ch] = make([]byte, 0, numFrames*bytesPerSample)
	}
	for f := 0; f < numFrames; f++ {
		base := f * frameSize
		for ch := 0; ch < numChannels; ch++ {
			off := base + ch*bytesPerSample
			channels[ch] = append(channels[ch], pcm[off:off+bytesPerSample]...)
		}
	}
	return channels
}

func (m *Manager) streamerCountLocked() int {
	n := 0
	for _, mach := range m.broadcasts {
		if mach.State() == StateStreaming {
			n++
		}
	}
	return n
}

func (m *Manager) machineByBigLocked(bigID uint8) *Machine {
	for _, mach := range m.broadcasts {
		if mach.AdvertisingSID() == bigID {
			return mach
		}
	}
	return nil
}

func (m *Manager) configForLocked(ctx announce.AudioContext) Configuration {
	if m.configOverride != "" {
		if cfg, ok := PresetByName(m.configOverride); ok {
			return cfg
		}
	}
	return ConfigForContext(DominantContext(ctx))
}

// ccidsForLocked collects the registered content control identifiers of
// every context bit present in mask, in ascending bit order.
func (m *Manager) ccidsForLocked(mask announce.AudioContext) []uint8 {
	if len(m.ccids) == 0 {
		return nil
	}
	var out []uint8
	seen := make(map[uint8]bool)
	for bit := announce.ContextUnspecified; bit != 0 && bit <= announce.ContextEmergencyAlarm; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		ccid, ok := m.ccids[bit]
		if !ok || seen[ccid] {
			continue
		}
		seen[ccid] = true
		out = append(out, ccid)
	}
	return out
}

// generateBroadcastIDsLocked draws eight random octets and keeps up to two
// 24-bit identifiers from them, skipping the invalid zero value.
func (m *Manager) generateBroadcastIDsLocked() {
	for attempt := 0; attempt < 4 && len(m.availableIDs) == 0; attempt++ {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			m.logger.Error("failed to draw random broadcast identifiers", "error", err)
			return
		}
		for i := 0; i < 2; i++ {
			id := BroadcastID(uint32(buf[3*i]) | uint32(buf[3*i+1])<<8 | uint32(buf[3*i+2])<<16)
			if id == BroadcastIDInvalid {
				continue
			}
			m.availableIDs = append(m.availableIDs, id)
		}
	}
}

func (m *Manager) popBroadcastIDLocked() BroadcastID {
	if len(m.availableIDs) == 0 {
		m.generateBroadcastIDsLocked()
		if len(m.availableIDs) == 0 {
			return BroadcastIDInvalid
		}
	}
	id := m.availableIDs[len(m.availableIDs)-1]
	m.availableIDs = m.availableIDs[:len(m.availableIDs)-1]
	if len(m.availableIDs) == 0 {
		m.generateBroadcastIDsLocked()
	}
	return id
}

// preparePublicAnnouncement combines the feature bits and metadata into a
// public broadcast announcement.
func preparePublicAnnouncement(features uint8, metadata *ltv.Map) announce.PublicBroadcastAnnouncement {
	return announce.PublicBroadcastAnnouncement{
		Features: features,
		Metadata: metadata,
	}
}

// prepareBasicAnnouncement builds the basic audio announcement for the
// given subgroup configurations and per-subgroup metadata. BIS indices are
// numbered from 1 across the whole BIG; parameters shared with the
// subgroup level are stripped from the per-BIS maps.
func prepareBasicAnnouncement(subgroups []SubgroupConfig, metadata []*ltv.Map) announce.BasicAudioAnnouncement {
	a := announce.BasicAudioAnnouncement{PresentationDelayUs: presentationDelayUs}

	bisIndex := uint8(0)
	for i := 0; i < len(subgroups) && i < len(metadata); i++ {
		sg := &subgroups[i]
		common := sg.CommonBisCodecData()

		sub := announce.Subgroup{
			Codec:             sg.Codec,
			VendorCodecConfig: sg.VendorCodecConfig,
			Metadata:          metadata[i],
		}
		// Vendor codec bytes replace the structured parameters.
		if sg.VendorCodecConfig == nil {
			sub.CodecConfig = common
		}

		for bisNum := uint8(0); bisNum < sg.NumBis(); bisNum++ {
			bisIndex++

			bc := announce.BisConfig{
				Index:             bisIndex,
				VendorCodecConfig: sg.BisVendorCodecData(bisNum),
			}
			if lv := sg.BisCodecData(bisNum); lv != nil {
				lv.RemoveTypes(common)
				bc.CodecConfig = lv
			}
			sub.BisConfigs = append(sub.BisConfigs, bc)
		}
		a.Subgroups = append(a.Subgroups, sub)
	}
	return a
}

// machineCallbacks adapts state machine notifications onto the manager.
// Except for OnOwnAddress these fire while the manager already holds its
// lock, because every state machine transition is driven under it.
type machineCallbacks struct{ m *Manager }

func (c *machineCallbacks) OnCreateStatus(id BroadcastID, ok bool) {
	c.m.onCreateStatusLocked(id, ok)
}

func (c *machineCallbacks) OnStateEvent(id BroadcastID, state State) {
	c.m.onStateEventLocked(id, state)
}

func (c *machineCallbacks) OnBigCreated(id BroadcastID, connHandles []uint16) {
	c.m.logger.Info("BIG created", "broadcast_id", id, "conn_handles", connHandles)
}

func (c *machineCallbacks) OnOwnAddress(id BroadcastID, addrType uint8, addr hci.Address) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.onOwnAddressLocked(id, addrType, addr)
}

func (c *machineCallbacks) OnDestroyed(id BroadcastID) {
	c.m.onDestroyedLocked(id)
}

func (m *Manager) onCreateStatusLocked(id BroadcastID, ok bool) {
	idx := -1
	for i, mach := range m.pending {
		if mach.BroadcastID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.logger.Error("create status for unknown pending broadcast", "broadcast_id", id)
		return
	}
	mach := m.pending[idx]
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)

	if ok {
		m.logger.Info("broadcast created", "broadcast_id", id, "state", mach.State())
		m.broadcasts[id] = mach
		if m.metrics != nil {
			m.metrics.RecordBroadcastCreated()
			m.metrics.SetActiveBroadcasts(len(m.broadcasts))
		}
	} else {
		m.logger.Error("failed to create broadcast", "broadcast_id", id)
		if m.metrics != nil {
			m.metrics.RecordBroadcastCreateFailed()
		}
	}
	m.sink.OnBroadcastCreated(id, ok)
	if ok {
		if meta, found := m.metadataLocked(id); found {
			m.sink.OnBroadcastMetadataChanged(id, meta)
		}
	}
}

func (m *Manager) onStateEventLocked(id BroadcastID, state State) {
	m.logger.Info("broadcast state changed", "broadcast_id", id, "state", state)

	if state == StateStreaming && m.streamerCountLocked() == 1 {
		if mach, ok := m.broadcasts[id]; ok {
			cfg := mach.Config()
			m.dispatchConfig = &cfg
			mach.SetMuted(false)

			if m.source != nil {
				m.logger.Info("starting audio source", "broadcast_id", id)
				if err := m.source.Start(cfg.AudioFormat(), m.DispatchAudio); err != nil {
					m.logger.Error("audio source start failed",
						"broadcast_id", id, "error", err)
					m.stopLocked(id)
					return
				}
			}
		}
	}

	if m.metrics != nil {
		m.metrics.RecordStateChange(state.String())
		m.metrics.SetStreamingBroadcasts(m.streamerCountLocked())
	}
	m.sink.OnBroadcastStateChanged(id, state)
}

func (m *Manager) onOwnAddressLocked(id BroadcastID, addrType uint8, addr hci.Address) {
	if mach, ok := m.broadcasts[id]; ok {
		mach.recordOwnAddress(addrType, addr)
	}

	waiters := m.addrWaiters[id]
	delete(m.addrWaiters, id)
	if len(waiters) == 0 {
		m.logger.Debug("own address response",
			"broadcast_id", id, "addr", addr, "addr_type", addrType)
		return
	}
	for _, fn := range waiters {
		fn(addrType, addr)
	}
}

func (m *Manager) onDestroyedLocked(id BroadcastID) {
	m.logger.Info("broadcast destroyed", "broadcast_id", id)
	if m.metrics != nil {
		m.metrics.RecordBroadcastDestroyed()
		m.metrics.SetActiveBroadcasts(len(m.broadcasts))
	}
	m.sink.OnBroadcastDestroyed(id)
}

// advCallbacks routes advertising completions from the controller to the
// owning state machine. These run on a controller goroutine and take the
// manager lock.
type advCallbacks struct{ m *Manager }

func (c *advCallbacks) OnAdvertisingSetStarted(advID uint8, txPower int8, status uint8) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	if len(c.m.pending) == 0 {
		c.m.logger.Warn("ignored advertising set start", "adv_id", advID)
		return
	}
	// Set creation completes in request order.
	c.m.pending[0].OnCreateAnnouncement(advID, txPower, status)
}

func (c *advCallbacks) OnAdvertisingEnabled(advID uint8, enable bool, status uint8) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	for _, mach := range c.m.broadcasts {
		if mach.AdvertisingSID() == advID {
			mach.OnEnableAnnouncement(enable, status)
			return
		}
	}
	c.m.logger.Warn("ignored advertising enable", "adv_id", advID)
}

func (c *advCallbacks) OnAdvertisingDataSet(advID uint8, status uint8) {
	c.m.logger.Debug("advertising data set", "adv_id", advID, "status", status)
}

func (c *advCallbacks) OnPeriodicDataSet(advID uint8, status uint8) {
	c.m.logger.Debug("periodic advertising data set", "adv_id", advID, "status", status)
}

// bigCallbacks routes BIG and data path completions from the controller to
// the owning state machine. These run on a controller goroutine and take
// the manager lock.
type bigCallbacks struct{ m *Manager }

func (c *bigCallbacks) OnBigCreated(evt hci.BigCreateComplete) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	mach := c.m.machineByBigLocked(evt.BigID)
	if mach == nil {
		c.m.logger.Warn("BIG create completion for unknown BIG", "big_id", evt.BigID)
		return
	}
	mach.OnBigCreateComplete(evt)
}

func (c *bigCallbacks) OnBigTerminated(evt hci.BigTerminateComplete) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	mach := c.m.machineByBigLocked(evt.BigID)
	if mach == nil {
		c.m.logger.Warn("BIG terminate completion for unknown BIG", "big_id", evt.BigID)
		return
	}
	mach.OnBigTerminateComplete(evt)

	// The stream source has nothing to feed once the BIG is gone.
	if c.m.source != nil {
		c.m.source.Stop()
	}
}

func (c *bigCallbacks) OnSetupIsoDataPath(status uint8, connHandle uint16, bigID uint8) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	mach := c.m.machineByBigLocked(bigID)
	if mach == nil {
		c.m.logger.Warn("data path setup completion for unknown BIG", "big_id", bigID)
		return
	}
	mach.OnSetupIsoDataPath(status, connHandle)
}

func (c *bigCallbacks) OnRemoveIsoDataPath(status uint8, connHandle uint16, bigID uint8) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	mach := c.m.machineByBigLocked(bigID)
	if mach == nil {
		c.m.logger.Warn("data path removal completion for unknown BIG", "big_id", bigID)
		return
	}
	mach.OnRemoveIsoDataPath(status, connHandle)
}
