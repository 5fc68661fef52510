package filtering

const (
	TypeNormal = "normal"
	TypeHotfix = "hotfix"
)

type Stage string

const (
	StagePre          Stage = "pre"
	StageIntermediate Stage = "intermediate"
	StagePost         Stage = "post"
)

// Descriptor is one entry of a filter list. A normal filter names a
// registered function and may carry its configuration; a hotfix carries an
// expression and the signature that authorises it.
type Descriptor struct {
	Type        string                 `json:"type" bson:"type" mapstructure:"type"`
	Filter      string                 `json:"filter,omitempty" bson:"filter,omitempty" mapstructure:"filter"`
	Config      map[string]interface{} `json:"config,omitempty" bson:"config,omitempty" mapstructure:"config"`
	Code        string                 `json:"code,omitempty" bson:"code,omitempty" mapstructure:"code"`
	Signature   string                 `json:"signature,omitempty" bson:"signature,omitempty" mapstructure:"signature"`
	Certificate string                 `json:"certificate,omitempty" bson:"certificate,omitempty" mapstructure:"certificate"`
}

// Lists holds the filters a payload configuration applies around parsing.
type Lists struct {
	Intermediate []Descriptor `json:"intermediate,omitempty" bson:"intermediate,omitempty" mapstructure:"intermediate"`
	Post         []Descriptor `json:"post,omitempty" bson:"post,omitempty" mapstructure:"post"`
}
