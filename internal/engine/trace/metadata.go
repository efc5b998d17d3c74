package trace

// Metadata is the tagged union of per-node-type data. Each node type has
// one concrete metadata type, so the data accompanying a node is
// statically known from its Type.
type Metadata interface {
	traceMetadata()
}

// RootMeta accompanies TypeRoot after Finish.
type RootMeta struct {
	Stats Stats `json:"stats"`
}

// DiceMeta accompanies TypeDiceRoll.
type DiceMeta struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"` // every die rolled
	Kept       []int  `json:"kept"`  // dice counted toward the total
	ModOp      string `json:"modOp"`
	Modifier   int    `json:"modifier"`
}

// SelectMeta accompanies TypeEntrySelect.
type SelectMeta struct {
	SelectedWeight float64 `json:"selectedWeight"`
	TotalWeight    float64 `json:"totalWeight"`
	Probability    float64 `json:"probability"`
	PoolSize       int     `json:"poolSize"`
	UniqueFiltered bool    `json:"uniqueFiltered"`
	SourceTable    string  `json:"sourceTable"` // contributing table for merged pools
}

// CompositeMeta accompanies TypeCompositeSelect.
type CompositeMeta struct {
	Candidates  int     `json:"candidates"`
	ChosenTable string  `json:"chosenTable"`
	Probability float64 `json:"probability"`
}

// CollectionMeta accompanies TypeCollectionMerge.
type CollectionMeta struct {
	Sources  int `json:"sources"`
	PoolSize int `json:"poolSize"`
}

// MultiRollMeta accompanies TypeMultiRoll.
type MultiRollMeta struct {
	Count     int  `json:"count"`
	Unique    bool `json:"unique"`
	Truncated bool `json:"truncated"` // unique pool ran out before Count draws
}

// CaptureMeta accompanies TypeCaptureMultiRoll.
type CaptureMeta struct {
	Variable string `json:"variable"`
	Items    int    `json:"items"`
}

// VariableMeta accompanies TypeVariableAccess and TypeCaptureAccess.
type VariableMeta struct {
	Variable string `json:"variable"`
	Index    int    `json:"index"` // -1 when no index accessor
	Property string `json:"property"`
}

// PlaceholderMeta accompanies TypePlaceholder.
type PlaceholderMeta struct {
	Table    string `json:"table"`
	Property string `json:"property"`
	Dynamic  bool   `json:"dynamic"` // resolved value named a table and was itself rolled
}

// ConditionalMeta accompanies TypeConditional.
type ConditionalMeta struct {
	Subject string `json:"subject"`
	Matched string `json:"matched"`
	Default bool   `json:"default"`
}

// InstanceMeta accompanies TypeInstance.
type InstanceMeta struct {
	Label    string `json:"label"`
	CacheHit bool   `json:"cacheHit"`
}

// MathMeta accompanies TypeMathEval.
type MathMeta struct {
	Substituted string `json:"substituted"` // expression after placeholder/variable substitution
}

// CollectMeta accompanies TypeCollect.
type CollectMeta struct {
	Variable string `json:"variable"`
	Property string `json:"property"`
	Unique   bool   `json:"unique"`
	Items    int    `json:"items"`
}

func (RootMeta) traceMetadata()        {}
func (DiceMeta) traceMetadata()        {}
func (SelectMeta) traceMetadata()      {}
func (CompositeMeta) traceMetadata()   {}
func (CollectionMeta) traceMetadata()  {}
func (MultiRollMeta) traceMetadata()   {}
func (CaptureMeta) traceMetadata()     {}
func (VariableMeta) traceMetadata()    {}
func (PlaceholderMeta) traceMetadata() {}
func (ConditionalMeta) traceMetadata() {}
func (InstanceMeta) traceMetadata()    {}
func (MathMeta) traceMetadata()        {}
func (CollectMeta) traceMetadata()     {}
