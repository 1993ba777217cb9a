package meshmap

// MapOwner is the optional callback interface a caller (a session
// manager, a cache application) registers to learn when an entry becomes
// primary on this node through something other than a local Put — i.e.
// through failover promotion or an explicit Get that promotes a
// backup/proxy/copy to primary. A local Put never fires this; the entry
// is primary from birth in that case.
type MapOwner interface {
	ObjectMadePrimary(key, value any)
}
