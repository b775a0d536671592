package xspfs

// AttachmentStorage exposes an inbound message's attachment subtree as
// a read-only filesystem over the object cache it was downloaded into
// (§4.H, §4.J): identical read paths to a local XSP filesystem, but
// writes, id generation, and linking are refused except when the
// underlying store is itself a "share" storage being populated by the
// owner sharing one of their own attachments back out.
type AttachmentStorage struct {
	container *NodesContainer
	isShare   bool
}

// NewAttachmentStorage wraps container as read-only attachment access.
// isShare should be true only for the "share" storage variant, where
// the owner is re-exposing an attachment they already own; every other
// caller gets a strictly read-only view.
func NewAttachmentStorage(container *NodesContainer, isShare bool) *AttachmentStorage {
	return &AttachmentStorage{container: container, isShare: isShare}
}

// File returns the read-only File node for objID.
func (a *AttachmentStorage) File(objID, parentID string, fileKey [32]byte) (*File, error) {
	return a.container.GetFile(objID, parentID, fileKey)
}

// Folder returns the read-only Folder node for objID.
func (a *AttachmentStorage) Folder(objID, parentID string, fileKey [32]byte) (*Folder, error) {
	return a.container.GetFolder(objID, parentID, fileKey)
}

// Link returns the read-only Link node for objID.
func (a *AttachmentStorage) Link(objID, parentID string, fileKey [32]byte) (*Link, error) {
	return a.container.GetLink(objID, parentID, fileKey)
}

// WriteSink refuses writes unless this storage is the "share" variant,
// matching §4.H's "refuses writes ... except to share storage".
func (a *AttachmentStorage) WriteSink(f *File, currentVersion *uint64, truncate bool) (*writeHandle, error) {
	if !a.isShare {
		return nil, errf(KindReadOnly, "attachment storage is read-only")
	}
	return f.WriteSink(currentVersion, truncate)
}

// ReserveID refuses id generation unless this storage is the "share"
// variant.
func (a *AttachmentStorage) ReserveID() (string, error) {
	if !a.isShare {
		return "", errf(KindReadOnly, "attachment storage does not generate ids")
	}
	return a.container.ReserveID(), nil
}

// AddChild refuses linking a child into a folder unless this storage
// is the "share" variant.
func (a *AttachmentStorage) AddChild(d *Folder, name, objID, fileKeyHex string, nodeType NodeType) error {
	if !a.isShare {
		return errf(KindReadOnly, "attachment storage does not support linking")
	}
	return d.AddChild(name, objID, fileKeyHex, nodeType)
}
