package model

// ChangeSet is the ledger state a transition wants written. A nil map value
// deletes the record under that key. The store applies a ChangeSet as one
// unit.
type ChangeSet struct {
	Listings  map[string]*Listing
	Positions map[string]*StakedPosition
	Custody   map[string]*Custody
	Summary   *StakingSummary
	Config    *Config
}

func (c *ChangeSet) PutListing(l Listing) {
	if c.Listings == nil {
		c.Listings = make(map[string]*Listing)
	}
	c.Listings[l.AssetID] = &l
}

func (c *ChangeSet) DeleteListing(assetID string) {
	if c.Listings == nil {
		c.Listings = make(map[string]*Listing)
	}
	c.Listings[assetID] = nil
}

func (c *ChangeSet) PutPosition(p StakedPosition) {
	if c.Positions == nil {
		c.Positions = make(map[string]*StakedPosition)
	}
	c.Positions[p.AssetID] = &p
}

func (c *ChangeSet) DeletePosition(assetID string) {
	if c.Positions == nil {
		c.Positions = make(map[string]*StakedPosition)
	}
	c.Positions[assetID] = nil
}

func (c *ChangeSet) PutCustody(cu Custody) {
	if c.Custody == nil {
		c.Custody = make(map[string]*Custody)
	}
	c.Custody[cu.AssetID] = &cu
}

func (c *ChangeSet) DeleteCustody(assetID string) {
	if c.Custody == nil {
		c.Custody = make(map[string]*Custody)
	}
	c.Custody[assetID] = nil
}

func (c *ChangeSet) PutSummary(s StakingSummary) {
	c.Summary = &s
}

func (c *ChangeSet) PutConfig(cfg Config) {
	c.Config = &cfg
}

// Merge folds other into c; other's entries win on conflicting keys.
func (c *ChangeSet) Merge(other ChangeSet) {
	for k, v := range other.Listings {
		if v == nil {
			c.DeleteListing(k)
		} else {
			c.PutListing(*v)
		}
	}
	for k, v := range other.Positions {
		if v == nil {
			c.DeletePosition(k)
		} else {
			c.PutPosition(*v)
		}
	}
	for k, v := range other.Custody {
		if v == nil {
			c.DeleteCustody(k)
		} else {
			c.PutCustody(*v)
		}
	}
	if other.Summary != nil {
		c.PutSummary(*other.Summary)
	}
	if other.Config != nil {
		c.PutConfig(*other.Config)
	}
}

// Empty reports whether applying c would write nothing.
func (c *ChangeSet) Empty() bool {
	return len(c.Listings) == 0 && len(c.Positions) == 0 && len(c.Custody) == 0 &&
		c.Summary == nil && c.Config == nil
}

// Transition is the complete output of one engine operation: the ledger
// writes and the instruction batch that must commit with them.
type Transition struct {
	Changes      ChangeSet     `json:"-"`
	Instructions []Instruction `json:"instructions"`
	Attributes   []Attribute   `json:"attributes"`
}
