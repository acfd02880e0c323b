package resolver

import "net"

// FakeResolver resolves synchronously from a fixed table, for tests that
// want deterministic ATYP=3 behavior without real DNS.
type FakeResolver struct {
	Table map[string]net.IP
}

func NewFakeResolver() *FakeResolver {
	return &FakeResolver{Table: make(map[string]net.IP)}
}

type fakeQuery struct{}

func (fakeQuery) Free() {}

func (f *FakeResolver) Resolve(host string, port uint16, onResult func(addr *net.UDPAddr)) Query {
	ip, ok := f.Table[host]
	if !ok {
		onResult(nil)
		return fakeQuery{}
	}
	onResult(&net.UDPAddr{IP: ip, Port: int(port)})
	return fakeQuery{}
}
