package builtin

import "encoding/json"

// GUIDelegate is the capability a node hosting a GUI-bearing process is
// parameterized on, grounded on
// original_source/src/core/builtin_gui.hpp's BuiltinGuiDelegate
// (`builtin_gui_send_command`/`builtin_gui_send_frontend_packet`). The
// core never renders anything itself — the daemon's GUI front-end
// connector is explicitly out of scope — it only emits
// through this capability.
type GUIDelegate interface {
	// CreateSurface asks the local node to instantiate a GUI surface for
	// the given process, mirroring BuiltinGui::create().
	CreateSurface(vpid string) error
	// SendScript forwards a JSON-encoded command to the frontend,
	// mirroring BuiltinGui::script().
	SendScript(vpid string, command json.RawMessage) error
}

// registerGUI installs the `create`/`script` builtins.
// When gui is nil (no GUI capability configured on this node) both
// return ErrorCode, since there is nothing to delegate to.
func registerGUI(r *Registry, gui GUIDelegate) {
	r.Register("create", func(c *Call) (ReturnCode, error) {
		if gui == nil {
			return ErrorCode, errNoGUIDelegate
		}
		if err := gui.CreateSurface(string(c.Process.VPID)); err != nil {
			return ErrorCode, err
		}
		return Normal, nil
	})

	r.Register("script", func(c *Call) (ReturnCode, error) {
		if gui == nil {
			return ErrorCode, errNoGUIDelegate
		}
		if err := gui.SendScript(string(c.Process.VPID), json.RawMessage(c.Args)); err != nil {
			return ErrorCode, err
		}
		return Normal, nil
	})
}
