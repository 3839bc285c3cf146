package envconf

// InputParser ...
type InputParser interface {
	Parse(input interface{}) error
}

type defaultInputParser struct {
	envGetter EnvGetter
}

// NewInputParser returns a parser reading the variables through envGetter.
func NewInputParser(envGetter EnvGetter) InputParser {
	return defaultInputParser{
		envGetter: envGetter,
	}
}

// Parse ...
func (p defaultInputParser) Parse(input interface{}) error {
	return parse(input, p.envGetter)
}
