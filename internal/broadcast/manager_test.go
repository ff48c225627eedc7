package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/hci"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recordingSink captures manager events behind its own mutex; events arrive
// from controller goroutines.
type recordingSink struct {
	mu        sync.Mutex
	creates   []createEvent
	destroyed []BroadcastID
	states    []stateEvent
	metas     []BroadcastMetadata
}

func (s *recordingSink) OnBroadcastCreated(id BroadcastID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, createEvent{id, ok})
}

func (s *recordingSink) OnBroadcastDestroyed(id BroadcastID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, id)
}

func (s *recordingSink) OnBroadcastStateChanged(id BroadcastID, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, stateEvent{id, state})
}

func (s *recordingSink) OnBroadcastMetadataChanged(id BroadcastID, meta BroadcastMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas = append(s.metas, meta)
}

func (s *recordingSink) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creates)
}

func (s *recordingSink) lastCreate() (createEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.creates) == 0 {
		return createEvent{}, false
	}
	return s.creates[len(s.creates)-1], true
}

func (s *recordingSink) sawState(id BroadcastID, state State) bool {
	return s.stateCount(id, state) > 0
}

func (s *recordingSink) stateCount(id BroadcastID, state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.states {
		if e.id == id && e.state == state {
			n++
		}
	}
	return n
}

func (s *recordingSink) destroyedIDs() []BroadcastID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BroadcastID(nil), s.destroyed...)
}

func (s *recordingSink) metaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metas)
}

// testSource records audio source calls and hands the deliver callback to
// the test.
type testSource struct {
	mu       sync.Mutex
	starts   int
	stops    int
	format   AudioFormat
	deliver  func(pcm []byte)
	startErr error
}

func (s *testSource) Start(format AudioFormat, deliver func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.format = format
	s.deliver = deliver
	return nil
}

func (s *testSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *testSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *testSource) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *testSource) deliverFn() func(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliver
}

func (s *testSource) lastFormat() AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func newTestManager(t *testing.T, opts ...func(*Params)) (*Manager, *hci.VirtualController, *recordingSink, *testSource) {
	t.Helper()
	ctrl := hci.NewVirtualController(testLogger(), 0)
	sink := &recordingSink{}
	src := &testSource{}
	p := Params{Advertiser: ctrl, Iso: ctrl, Source: src, Sink: sink}
	for _, o := range opts {
		o(&p)
	}
	mgr, err := NewManager(testLogger(), p)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr, ctrl, sink, src
}

func contextMetadata(ctx announce.AudioContext) []byte {
	return ltv.New().
		AddUint16(announce.MetadataTypeStreamingAudioContext, uint16(ctx)).
		RawBytes()
}

func publicMetadata(program string) []byte {
	return ltv.New().
		Add(announce.MetadataTypeProgramInfo, []byte(program)).
		RawBytes()
}

func testCreateRequest() CreateRequest {
	return CreateRequest{
		IsPublic:         true,
		Name:             "Kitchen radio",
		PublicMetadata:   publicMetadata("morning show"),
		SubgroupQuality:  []uint8{QualityStandard},
		SubgroupMetadata: [][]byte{contextMetadata(announce.ContextMedia)},
	}
}

// createBroadcast runs one creation to completion and returns the assigned
// identifier.
func createBroadcast(t *testing.T, mgr *Manager, sink *recordingSink, req CreateRequest) BroadcastID {
	t.Helper()
	before := sink.createCount()
	id, err := mgr.CreateBroadcast(req)
	require.NoError(t, err)
	require.NotEqual(t, BroadcastIDInvalid, id)
	require.Eventually(t, func() bool {
		return sink.createCount() > before
	}, waitFor, tick)

	evt, ok := sink.lastCreate()
	require.True(t, ok)
	require.True(t, evt.ok, "broadcast creation failed")
	require.Equal(t, id, evt.id)
	return evt.id
}

func startToStreaming(t *testing.T, mgr *Manager, sink *recordingSink, id BroadcastID) {
	t.Helper()
	mgr.Start(id)
	require.Eventually(t, func() bool {
		return sink.sawState(id, StateStreaming)
	}, waitFor, tick)
}

func TestManagerRequiresControllers(t *testing.T) {
	_, err := NewManager(testLogger(), Params{})
	assert.Error(t, err)
}

func TestManagerRejectsUnknownPreset(t *testing.T) {
	ctrl := hci.NewVirtualController(testLogger(), 0)
	_, err := NewManager(testLogger(), Params{
		Advertiser:     ctrl,
		Iso:            ctrl,
		ConfigOverride: "lc3_surround_7_1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lc3_surround_7_1")
}

func TestManagerCreateBroadcast(t *testing.T) {
	mgr, ctrl, sink, _ := newTestManager(t)

	id := createBroadcast(t, mgr, sink, testCreateRequest())

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.Equal(t, id, meta.BroadcastID)
	assert.True(t, meta.IsPublic)
	assert.Equal(t, "Kitchen radio", meta.Name)
	assert.Equal(t, StateConfigured, meta.State)
	assert.Equal(t, uint8(1), meta.AdvertisingSID)
	assert.Equal(t, PaIntervalMax, meta.PaInterval)
	assert.False(t, meta.Encrypted)
	assert.Equal(t, uint8(announce.PublicFeatureStandardQuality), meta.PublicAnnouncement.Features)

	// MEDIA context selects a stereo configuration: one subgroup, two
	// streams numbered from 1.
	require.Len(t, meta.Announcement.Subgroups, 1)
	sub := meta.Announcement.Subgroups[0]
	require.Len(t, sub.BisConfigs, 2)
	assert.Equal(t, uint8(1), sub.BisConfigs[0].Index)
	assert.Equal(t, uint8(2), sub.BisConfigs[1].Index)
	assert.Equal(t, uint32(40000), meta.Announcement.PresentationDelayUs)

	freq, ok := sub.CodecConfig.Find(announce.CodecTypeSamplingFrequency)
	require.True(t, ok)
	assert.Equal(t, []byte{announce.SamplingFreq24000Hz}, freq)

	// The advertising set address was fetched during creation.
	require.Eventually(t, func() bool {
		meta, _ = mgr.Metadata(id)
		return meta.Addr == ctrl.OwnAddress()
	}, waitFor, tick)
	assert.Equal(t, hci.OwnAddressRandom, meta.AddrType)

	assert.Greater(t, sink.metaCount(), 0)
}

func TestManagerCreateEncrypted(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)

	code := [16]byte{'s', 'e', 'c', 'r', 'e', 't'}
	req := testCreateRequest()
	req.Code = &code
	id := createBroadcast(t, mgr, sink, req)

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.True(t, meta.Encrypted)
	assert.Equal(t, code, meta.Code)
	assert.Equal(t,
		announce.PublicFeatureEncrypted|announce.PublicFeatureStandardQuality,
		meta.PublicAnnouncement.Features)
}

func TestManagerHighQualityDowngrade(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)

	// MEDIA selects a 24 kHz configuration; HIGH quality needs 48 kHz and
	// falls back to STANDARD.
	req := testCreateRequest()
	req.SubgroupQuality = []uint8{QualityHigh}
	id := createBroadcast(t, mgr, sink, req)

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.Equal(t, uint8(announce.PublicFeatureStandardQuality), meta.PublicAnnouncement.Features)
}

func TestManagerHighQualityWithOverride(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t, func(p *Params) {
		p.ConfigOverride = "lc3_stereo_48_2_2"
	})

	req := testCreateRequest()
	req.SubgroupQuality = []uint8{QualityHigh}
	id := createBroadcast(t, mgr, sink, req)

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.Equal(t, uint8(announce.PublicFeatureHighQuality), meta.PublicAnnouncement.Features)

	freq, ok := meta.Announcement.Subgroups[0].CodecConfig.Find(announce.CodecTypeSamplingFrequency)
	require.True(t, ok)
	assert.Equal(t, []byte{announce.SamplingFreq48000Hz}, freq)
}

func TestManagerCreateInvalidMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{
			name: "truncated public metadata",
			mutate: func(r *CreateRequest) {
				r.PublicMetadata = []byte{0x05, announce.MetadataTypeProgramInfo}
			},
		},
		{
			name: "truncated subgroup metadata",
			mutate: func(r *CreateRequest) {
				r.SubgroupMetadata = [][]byte{{0x05, announce.MetadataTypeCcidList}}
			},
		},
		{
			name: "short streaming context",
			mutate: func(r *CreateRequest) {
				r.SubgroupMetadata = [][]byte{{0x02, announce.MetadataTypeStreamingAudioContext, 0x04}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _, sink, _ := newTestManager(t)

			req := testCreateRequest()
			tt.mutate(&req)
			_, err := mgr.CreateBroadcast(req)
			assert.Error(t, err)

			require.Eventually(t, func() bool {
				return sink.createCount() == 1
			}, waitFor, tick)
			evt, _ := sink.lastCreate()
			assert.False(t, evt.ok)
			assert.Equal(t, BroadcastIDInvalid, evt.id)
			assert.Empty(t, mgr.States())
		})
	}
}

func TestManagerCreateQueuedDuringIsoTraffic(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)

	mgr.IsoTrafficEvent(true)
	queued, err := mgr.CreateBroadcast(testCreateRequest())
	require.NoError(t, err)
	require.NotEqual(t, BroadcastIDInvalid, queued)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.createCount())

	// A second creation cannot queue behind the first.
	_, err = mgr.CreateBroadcast(testCreateRequest())
	assert.ErrorIs(t, err, ErrBusy)
	require.Eventually(t, func() bool {
		return sink.createCount() == 1
	}, waitFor, tick)
	evt, _ := sink.lastCreate()
	assert.False(t, evt.ok)

	mgr.IsoTrafficEvent(false)
	require.Eventually(t, func() bool {
		return sink.createCount() == 2
	}, waitFor, tick)
	evt, _ = sink.lastCreate()
	assert.True(t, evt.ok)
	assert.Equal(t, queued, evt.id)
}

func TestManagerCreateFailureFromController(t *testing.T) {
	mgr, ctrl, sink, _ := newTestManager(t)
	ctrl.InjectFaults(hci.Faults{StartSet: hci.StatusMemoryCapacityExceeded})

	mgr.CreateBroadcast(testCreateRequest())

	require.Eventually(t, func() bool {
		return sink.createCount() == 1
	}, waitFor, tick)
	evt, _ := sink.lastCreate()
	assert.False(t, evt.ok)
	assert.NotEqual(t, BroadcastIDInvalid, evt.id)
	assert.Empty(t, mgr.States())
}

func TestManagerStartToStreaming(t *testing.T) {
	mgr, ctrl, sink, src := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	startToStreaming(t, mgr, sink, id)

	assert.Equal(t, 1, src.startCount())
	assert.Equal(t, AudioFormat{
		NumChannels:    2,
		SampleRateHz:   24000,
		BitsPerSample:  16,
		DataIntervalUs: 10000,
	}, src.lastFormat())

	// Two interleaved stereo frames split into one SDU per BIS.
	deliver := src.deliverFn()
	require.NotNil(t, deliver)
	deliver([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	sdus, bytes := ctrl.Sent()
	assert.Equal(t, uint64(2), sdus)
	assert.Equal(t, uint64(8), bytes)
}

func TestManagerSecondStreamerRefused(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	first := createBroadcast(t, mgr, sink, testCreateRequest())
	req := testCreateRequest()
	req.Name = "Second"
	second := createBroadcast(t, mgr, sink, req)

	startToStreaming(t, mgr, sink, first)
	assert.ErrorIs(t, mgr.Start(second), ErrBusy)

	time.Sleep(50 * time.Millisecond)
	states := mgr.States()
	assert.Equal(t, StateStreaming, states[first])
	assert.Equal(t, StateConfigured, states[second])
	assert.False(t, sink.sawState(second, StateStreaming))
}

func TestManagerStartQueuedDuringIsoTraffic(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	mgr.IsoTrafficEvent(true)
	mgr.Start(id)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, sink.sawState(id, StateStreaming))

	mgr.IsoTrafficEvent(false)
	require.Eventually(t, func() bool {
		return sink.sawState(id, StateStreaming)
	}, waitFor, tick)
}

func TestManagerSuspendAndResume(t *testing.T) {
	mgr, _, sink, src := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())
	startToStreaming(t, mgr, sink, id)

	mgr.Suspend(id)
	require.Eventually(t, func() bool {
		states := mgr.States()
		return states[id] == StateConfigured
	}, waitFor, tick)
	assert.GreaterOrEqual(t, src.stopCount(), 1)

	// Resume goes straight back through BIG creation.
	mgr.Start(id)
	require.Eventually(t, func() bool {
		return mgr.States()[id] == StateStreaming
	}, waitFor, tick)
	assert.Equal(t, 2, src.startCount())
}

func TestManagerStopAndRestart(t *testing.T) {
	mgr, _, sink, src := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())
	startToStreaming(t, mgr, sink, id)

	mgr.Stop(id)
	require.Eventually(t, func() bool {
		return mgr.States()[id] == StateStopped
	}, waitFor, tick)
	assert.True(t, sink.sawState(id, StateStopping))
	assert.GreaterOrEqual(t, src.stopCount(), 1)

	// Restart re-enables the announcement before the BIG comes back.
	mgr.Start(id)
	require.Eventually(t, func() bool {
		return mgr.States()[id] == StateStreaming
	}, waitFor, tick)
}

func TestManagerSourceStartFailureStopsBroadcast(t *testing.T) {
	mgr, _, sink, src := newTestManager(t)
	src.startErr = errors.New("no capture device")

	id := createBroadcast(t, mgr, sink, testCreateRequest())
	mgr.Start(id)

	require.Eventually(t, func() bool {
		return mgr.States()[id] == StateStopped
	}, waitFor, tick)
	// The aborted session never surfaces STREAMING.
	assert.False(t, sink.sawState(id, StateStreaming))
}

func TestManagerBigCreateFaultKeepsConfigured(t *testing.T) {
	mgr, ctrl, sink, _ := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	ctrl.InjectFaults(hci.Faults{CreateBig: hci.StatusMemoryCapacityExceeded})
	mgr.Start(id)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateConfigured, mgr.States()[id])
	assert.False(t, sink.sawState(id, StateStreaming))
}

func TestManagerSetupPathFaultTearsDown(t *testing.T) {
	mgr, ctrl, sink, _ := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	ctrl.InjectFaults(hci.Faults{SetupPath: hci.StatusUnspecifiedError})
	mgr.Start(id)

	// The failed data path tears the BIG down; the second CONFIGURED event
	// marks the completed teardown and the announcement keeps running.
	require.Eventually(t, func() bool {
		return sink.stateCount(id, StateConfigured) >= 2
	}, waitFor, tick)
	assert.Equal(t, StateConfigured, mgr.States()[id])
	assert.False(t, sink.sawState(id, StateStreaming))
}

func TestManagerDestroy(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	require.NoError(t, mgr.Destroy(id))

	assert.Contains(t, sink.destroyedIDs(), id)
	_, found := mgr.Metadata(id)
	assert.False(t, found)
	assert.Empty(t, mgr.States())

	assert.ErrorIs(t, mgr.Destroy(id), ErrNotFound)
}

func TestManagerOpsOnUnknownBroadcast(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	unknown := BroadcastID(0xBAD)
	assert.ErrorIs(t, mgr.Start(unknown), ErrNotFound)
	assert.ErrorIs(t, mgr.Stop(unknown), ErrNotFound)
	assert.ErrorIs(t, mgr.Suspend(unknown), ErrNotFound)
	assert.ErrorIs(t, mgr.UpdateMetadata(unknown, "x", nil, nil), ErrNotFound)
}

func TestManagerUpdateMetadata(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	mgr.SetContextCcid(announce.ContextMedia, 3)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	metaPushes := sink.metaCount()
	mgr.UpdateMetadata(id, "Garden radio",
		publicMetadata("evening show"),
		[][]byte{contextMetadata(announce.ContextMedia)})

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.Equal(t, "Garden radio", meta.Name)

	program, ok := meta.PublicAnnouncement.Metadata.Find(announce.MetadataTypeProgramInfo)
	require.True(t, ok)
	assert.Equal(t, []byte("evening show"), program)

	// Registered content control IDs ride along on the subgroup metadata.
	sub := meta.Announcement.Subgroups[0]
	ccids, ok := sub.Metadata.Find(announce.MetadataTypeCcidList)
	require.True(t, ok)
	assert.Equal(t, []byte{3}, ccids)

	assert.Greater(t, sink.metaCount(), metaPushes)
}

func TestManagerCcidRegistryCreate(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	mgr.SetContextCcid(announce.ContextMedia, 3)
	mgr.SetContextCcid(announce.ContextLive, 3)
	mgr.SetContextCcid(announce.ContextGame, 7)

	req := testCreateRequest()
	req.SubgroupMetadata = [][]byte{
		contextMetadata(announce.ContextMedia | announce.ContextLive | announce.ContextGame),
	}
	id := createBroadcast(t, mgr, sink, req)

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	ccids, ok := meta.Announcement.Subgroups[0].Metadata.Find(announce.MetadataTypeCcidList)
	require.True(t, ok)
	// Identical IDs registered for two matching contexts appear once.
	assert.Equal(t, []byte{3, 7}, ccids)
}

func TestManagerCcidRemoval(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	mgr.SetContextCcid(announce.ContextMedia, 3)
	mgr.SetContextCcid(announce.ContextMedia, -1)

	id := createBroadcast(t, mgr, sink, testCreateRequest())

	meta, found := mgr.Metadata(id)
	require.True(t, found)
	assert.False(t, meta.Announcement.Subgroups[0].Metadata.Has(announce.MetadataTypeCcidList))
}

func TestManagerIsLocalBroadcast(t *testing.T) {
	mgr, ctrl, sink, _ := newTestManager(t)
	id := createBroadcast(t, mgr, sink, testCreateRequest())

	results := make(chan bool, 1)
	mgr.IsLocalBroadcast(id, hci.OwnAddressRandom, ctrl.OwnAddress(), func(isLocal bool) {
		results <- isLocal
	})
	select {
	case isLocal := <-results:
		assert.True(t, isLocal)
	case <-time.After(waitFor):
		t.Fatal("no address verdict")
	}

	mgr.IsLocalBroadcast(id, hci.OwnAddressPublic, hci.Address{1, 2, 3, 4, 5, 6}, func(isLocal bool) {
		results <- isLocal
	})
	select {
	case isLocal := <-results:
		assert.False(t, isLocal)
	case <-time.After(waitFor):
		t.Fatal("no address verdict")
	}

	// Unknown broadcasts answer immediately.
	mgr.IsLocalBroadcast(0xFFFFFF, hci.OwnAddressRandom, ctrl.OwnAddress(), func(isLocal bool) {
		results <- isLocal
	})
	assert.False(t, <-results)
}

func TestManagerStreamingPhySelection(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	assert.Equal(t, hci.Phy2M, mgr.StreamingPhy())
	mgr.SetStreamingPhy(hci.PhyCoded)
	assert.Equal(t, hci.PhyCoded, mgr.StreamingPhy())
}

func TestManagerClose(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	first := createBroadcast(t, mgr, sink, testCreateRequest())
	req := testCreateRequest()
	req.Name = "Second"
	second := createBroadcast(t, mgr, sink, req)

	mgr.Close()

	destroyed := sink.destroyedIDs()
	assert.Contains(t, destroyed, first)
	assert.Contains(t, destroyed, second)
	assert.Empty(t, mgr.States())

	// Closed managers refuse new broadcasts.
	_, err := mgr.CreateBroadcast(testCreateRequest())
	assert.ErrorIs(t, err, ErrClosed)
	require.Eventually(t, func() bool {
		evt, ok := sink.lastCreate()
		return ok && !evt.ok && evt.id == BroadcastIDInvalid
	}, waitFor, tick)
}

func TestSplitChannels(t *testing.T) {
	tests := []struct {
		name           string
		pcm            []byte
		numChannels    int
		bytesPerSample int
		want           [][]byte
	}{
		{
			name:           "stereo 16-bit",
			pcm:            []byte{1, 2, 3, 4, 5, 6, 7, 8},
			numChannels:    2,
			bytesPerSample: 2,
			want:           [][]byte{{1, 2, 5, 6}, {3, 4, 7, 8}},
		},
		{
			name:           "mono passthrough",
			pcm:            []byte{1, 2, 3, 4},
			numChannels:    1,
			bytesPerSample: 2,
			want:           [][]byte{{1, 2, 3, 4}},
		},
		{
			name:           "trailing partial frame dropped",
			pcm:            []byte{1, 2, 3, 4, 5},
			numChannels:    2,
			bytesPerSample: 2,
			want:           [][]byte{{1, 2}, {3, 4}},
		},
		{
			name:           "too short for one frame",
			pcm:            []byte{1, 2},
			numChannels:    2,
			bytesPerSample: 2,
			want:           nil,
		},
		{
			name:           "zero channels",
			pcm:            []byte{1, 2, 3, 4},
			numChannels:    0,
			bytesPerSample: 2,
			want:           nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChannels(tt.pcm, tt.numChannels, tt.bytesPerSample)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPresetSelectionByContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     announce.AudioContext
		numBis  uint8
		freq    uint32
		rtn     uint8
		latency uint16
	}{
		{"game", announce.ContextGame, 2, 24000, 2, 10},
		{"live", announce.ContextLive, 2, 24000, 2, 10},
		{"instructional", announce.ContextInstructional, 1, 16000, 2, 10},
		{"sound effects", announce.ContextSoundEffects, 2, 16000, 4, 60},
		{"unspecified", announce.ContextUnspecified, 2, 16000, 4, 60},
		{"alerts", announce.ContextAlerts, 1, 16000, 4, 60},
		{"notifications", announce.ContextNotifications, 1, 16000, 4, 60},
		{"emergency alarm", announce.ContextEmergencyAlarm, 1, 16000, 4, 60},
		{"media", announce.ContextMedia, 2, 24000, 4, 60},
		{"ringtone falls back", announce.ContextRingtone, 1, 16000, 4, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigForContext(tt.ctx)
			assert.Equal(t, tt.numBis, cfg.NumBisTotal())
			assert.Equal(t, tt.freq, cfg.MaxSamplingFrequencyHz())
			assert.Equal(t, tt.rtn, cfg.Qos.RetransmissionNumber)
			assert.Equal(t, tt.latency, cfg.Qos.MaxTransportLatency)
		})
	}
}

func TestDominantContextPriority(t *testing.T) {
	assert.Equal(t, announce.ContextLive,
		DominantContext(announce.ContextLive|announce.ContextMedia|announce.ContextAlerts))
	assert.Equal(t, announce.ContextGame,
		DominantContext(announce.ContextGame|announce.ContextNotifications))
	assert.Equal(t, announce.ContextMedia,
		DominantContext(announce.ContextMedia|announce.ContextSoundEffects))
	assert.Equal(t, announce.ContextMedia, DominantContext(0))
	assert.Equal(t, announce.ContextMedia, DominantContext(announce.ContextRingtone))
}
