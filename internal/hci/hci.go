package hci

// Advertiser drives extended and periodic advertising sets. All operations
// are asynchronous: completions arrive on the registered
// AdvertisingCallbacks from a controller-owned goroutine, in the order the
// commands were issued. Unregister is the only synchronous call and has no
// completion.
type Advertiser interface {
	RegisterCallbacks(cb AdvertisingCallbacks)
	StartAdvertisingSet(params AdvertiseParams, advData []byte, periodic PeriodicParams, periodicData []byte)
	Enable(advID uint8, enable bool)
	SetData(advID uint8, data []byte)
	SetPeriodicData(advID uint8, data []byte)
	GetOwnAddress(advID uint8, cb func(addrType uint8, addr Address))
	Unregister(advID uint8)
}

// AdvertisingCallbacks receives advertising completions.
type AdvertisingCallbacks interface {
	OnAdvertisingSetStarted(advID uint8, txPower int8, status uint8)
	OnAdvertisingEnabled(advID uint8, enable bool, status uint8)
	OnAdvertisingDataSet(advID uint8, status uint8)
	OnPeriodicDataSet(advID uint8, status uint8)
}

// Iso drives broadcast isochronous groups and their data paths. CreateBig,
// TerminateBig, SetupIsoDataPath and RemoveIsoDataPath complete through the
// registered BigCallbacks; SendIsoData is synchronous.
type Iso interface {
	RegisterBigCallbacks(cb BigCallbacks)
	CreateBig(params BigCreateParams)
	TerminateBig(bigID uint8, reason uint8)
	SetupIsoDataPath(connHandle uint16, params DataPathParams)
	RemoveIsoDataPath(connHandle uint16, directionMask uint8)
	SendIsoData(connHandle uint16, data []byte) error
}

// BigCallbacks receives BIG lifecycle and data path completions.
type BigCallbacks interface {
	OnBigCreated(evt BigCreateComplete)
	OnBigTerminated(evt BigTerminateComplete)
	OnSetupIsoDataPath(status uint8, connHandle uint16, bigID uint8)
	OnRemoveIsoDataPath(status uint8, connHandle uint16, bigID uint8)
}
