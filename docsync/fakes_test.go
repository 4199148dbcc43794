package docsync

import (
	"context"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
)

type fakeTransport struct {
	fetchResult FetchResult
	pushed      []DocMessage
}

func (t *fakeTransport) FetchDocs(ctx context.Context, limit int) (FetchResult, error) {
	res := t.fetchResult
	t.fetchResult = FetchResult{}
	return res, nil
}
func (t *fakeTransport) PushDoc(ctx context.Context, msg DocMessage) error {
	t.pushed = append(t.pushed, msg)
	return nil
}
func (t *fakeTransport) BlobUploadURL(ctx context.Context, blobID string) (string, error) {
	return "https://blobs.test/" + blobID, nil
}
func (t *fakeTransport) BlobDownloadURL(ctx context.Context, blobID string) (string, int64, error) {
	return "https://blobs.test/" + blobID, 0, nil
}

type fakeGroupDirectory struct {
	groups map[cryptoprim.Digest]*group.Group
}

func newFakeGroupDirectory() *fakeGroupDirectory {
	return &fakeGroupDirectory{groups: map[cryptoprim.Digest]*group.Group{}}
}
func (d *fakeGroupDirectory) Lookup(id cryptoprim.Digest) (*group.Group, bool) {
	g, ok := d.groups[id]
	return g, ok
}
func (d *fakeGroupDirectory) Save(g *group.Group) error {
	d.groups[g.ID()] = g
	return nil
}
func (d *fakeGroupDirectory) GroupForAccount(ctx context.Context, account model.AccountID) (*group.Group, bool, error) {
	g, ok := d.groups[cryptoprim.Digest(account)]
	if !ok {
		return nil, false, errors.New("fake group directory: no pre-seeded group for account")
	}
	return g, false, nil
}

type fakeAccountDirectory struct {
	devices  map[model.DeviceID]model.AccountDevice
	pubkeys  map[model.DeviceID]cryptoprim.PublicKey
	contacts []model.AccountID
}

func newFakeAccountDirectory() *fakeAccountDirectory {
	return &fakeAccountDirectory{devices: map[model.DeviceID]model.AccountDevice{}, pubkeys: map[model.DeviceID]cryptoprim.PublicKey{}}
}
func (d *fakeAccountDirectory) Lookup(dev model.DeviceID) (model.AccountDevice, bool) {
	v, ok := d.devices[dev]
	return v, ok
}
func (d *fakeAccountDirectory) PublicKey(dev model.DeviceID) (cryptoprim.PublicKey, bool) {
	v, ok := d.pubkeys[dev]
	return v, ok
}
func (d *fakeAccountDirectory) Contacts() []model.AccountID { return d.contacts }

type recordingEmitter struct {
	events []Event
}

func (e *recordingEmitter) Emit(ev Event) { e.events = append(e.events, ev) }
