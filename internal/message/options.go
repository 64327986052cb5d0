package message

import "github.com/lesfleursdelanuitdev/mycelia/internal/identity"

// Options accompany a message through the kernel pipeline. The caller
// identity fields are set exclusively by the kernel; anything a user
// supplies there is stripped before dispatch. Once frozen, mutators
// are no-ops.
type Options struct {
	callerID       identity.PKR
	callerIDSetBy  identity.PKR
	isResponse     bool
	responseNeeded *ResponseRequired
	custom         map[string]any
	frozen         bool
}

// NewOptions creates an empty, unfrozen options value.
func NewOptions() *Options {
	return &Options{}
}

// Clone returns an unfrozen copy.
func (o *Options) Clone() *Options {
	if o == nil {
		return NewOptions()
	}
	clone := &Options{
		callerID:      o.callerID,
		callerIDSetBy: o.callerIDSetBy,
		isResponse:    o.isResponse,
	}
	if o.responseNeeded != nil {
		rr := *o.responseNeeded
		clone.responseNeeded = &rr
	}
	if o.custom != nil {
		clone.custom = make(map[string]any, len(o.custom))
		for k, v := range o.custom {
			clone.custom[k] = v
		}
	}
	return clone
}

// Freeze makes the options immutable.
func (o *Options) Freeze() { o.frozen = true }

// Frozen reports whether the options are immutable.
func (o *Options) Frozen() bool { return o.frozen }

// CallerID returns the authenticated caller identity.
func (o *Options) CallerID() identity.PKR { return o.callerID }

// CallerIDSetBy returns the identity that stamped CallerID. Only the
// kernel sets this; route permission checks require it to be the
// kernel's PKR.
func (o *Options) CallerIDSetBy() identity.PKR { return o.callerIDSetBy }

// HasCallerID reports whether a caller identity is present.
func (o *Options) HasCallerID() bool { return !o.callerID.IsZero() }

// HasCallerIDSetBy reports whether the stamping identity is present.
func (o *Options) HasCallerIDSetBy() bool { return !o.callerIDSetBy.IsZero() }

// SetCallerIdentity stamps the caller identity fields. Kernel use only.
func (o *Options) SetCallerIdentity(caller, setBy identity.PKR) {
	if o.frozen {
		return
	}
	o.callerID = caller
	o.callerIDSetBy = setBy
}

// StripCallerIdentity clears both identity fields.
func (o *Options) StripCallerIdentity() {
	if o.frozen {
		return
	}
	o.callerID = identity.PKR{}
	o.callerIDSetBy = identity.PKR{}
}

// StripCallerIDSetBy clears the stamping identity, leaving CallerID
// visible to the handler.
func (o *Options) StripCallerIDSetBy() {
	if o.frozen {
		return
	}
	o.callerIDSetBy = identity.PKR{}
}

// IsResponse reports whether the send is a reply.
func (o *Options) IsResponse() bool { return o.isResponse }

// SetIsResponse marks the send as a reply.
func (o *Options) SetIsResponse(v bool) {
	if o.frozen {
		return
	}
	o.isResponse = v
}

// ResponseRequired returns the reply-tracking request, if any.
func (o *Options) ResponseRequired() *ResponseRequired { return o.responseNeeded }

// SetResponseRequired asks the kernel to track a reply.
func (o *Options) SetResponseRequired(rr *ResponseRequired) {
	if o.frozen {
		return
	}
	o.responseNeeded = rr
}

// Get reads an application option field.
func (o *Options) Get(key string) (any, bool) {
	v, exists := o.custom[key]
	return v, exists
}

// Set writes an application option field.
func (o *Options) Set(key string, value any) {
	if o.frozen {
		return
	}
	if o.custom == nil {
		o.custom = make(map[string]any)
	}
	o.custom[key] = value
}
