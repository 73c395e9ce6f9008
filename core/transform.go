package core

// Transformer mutates a Transcript in place.
type Transformer interface {
	Transform(t *Transcript) error
}

// TransformerFunc adapts a plain function to a Transformer.
type TransformerFunc func(t *Transcript) error

// Transform calls f(t).
func (f TransformerFunc) Transform(t *Transcript) error { return f(t) }

// Chain applies transformers in order, stopping at the first error. Nil
// entries are skipped so optional stages can be passed through unchanged.
func Chain(t *Transcript, transformers ...Transformer) error {
	for _, tr := range transformers {
		if tr == nil {
			continue
		}
		if err := tr.Transform(t); err != nil {
			return err
		}
	}
	return nil
}
