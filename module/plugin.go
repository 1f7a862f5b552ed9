package module

import "plugin"

// pluginOpener opens Go plugins built with -buildmode=plugin. Go plugins
// cannot be closed, so unloading only drops the handle.
type pluginOpener struct{}

func (pluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}
