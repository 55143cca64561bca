package gpu

// Data returns the host view of the memory of a host-mapped resource (see ResourceParams.HostMapped), limited to
// its requested Size.
//
// The slice aliases the resource memory: it is only valid until the resource is destroyed, and it is shared with
// any other resource aliasing the same memory (through exported handles).
func (r *Resource) Data() ([]byte, error) {
	const op = "Data"
	if err := r.checkValid(op); err != nil {
		return nil, countError(op, err)
	}
	if r.wrapper.mapped != nil {
		return r.wrapper.mapped, nil
	}
	if !r.params.HostMapped {
		return nil, countError(op, opErrorf(op, UnsupportedCapability, "%s is not host-mapped", r))
	}
	mapper, ok := r.wrapper.dev.(Mapper)
	if !ok {
		return nil, countError(op, opErrorf(op, UnsupportedCapability, "backend %q can't map memory to host",
			r.wrapper.backendName))
	}
	data, err := mapper.Map(r.wrapper.alloc)
	if err != nil {
		return nil, countError(op, wrapError(op, UnsupportedCapability, err, "backend %q failed to map %s",
			r.wrapper.backendName, r))
	}
	if uint64(len(data)) < r.params.Size {
		return nil, countError(op, opErrorf(op, InvalidHandle, "backend %q mapped %d bytes of %s",
			r.wrapper.backendName, len(data), r))
	}
	r.wrapper.mapped = data[:r.params.Size:r.params.Size]
	return r.wrapper.mapped, nil
}

// ToHost copies the contents of a host-mapped resource to dst, which must be at least Size() bytes.
func (r *Resource) ToHost(dst []byte) error {
	const op = "ToHost"
	data, err := r.Data()
	if err != nil {
		return err
	}
	if len(dst) < len(data) {
		return countError(op, opErrorf(op, InvalidParams, "dst has %d bytes, but %s requires %d", len(dst), r, len(data)))
	}
	copy(dst, data)
	return nil
}

// FromHost copies src to the start of a host-mapped resource. src can't be larger than Size().
func (r *Resource) FromHost(src []byte) error {
	const op = "FromHost"
	data, err := r.Data()
	if err != nil {
		return err
	}
	if len(src) > len(data) {
		return countError(op, opErrorf(op, InvalidParams, "src has %d bytes, but %s only holds %d", len(src), r, len(data)))
	}
	copy(data, src)
	return nil
}
