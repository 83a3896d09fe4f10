package warp

import (
	"encoding/json"
	"fmt"

	"github.com/processwarp/core/internal/addr"
)

// Command is one scheduler control-plane message: a JSON object tagged
// by `command`, matching the scheduler's own field name (this core
// never emits a Go struct tag other than "command" so the wire shape is
// exactly what the scheduler expects).
type Command struct {
	Command  string    `json:"command"`
	PID      addr.VPID `json:"pid,omitempty"`
	RootTID  addr.VTID `json:"root_tid,omitempty"`
	ProcAddr addr.VAddr `json:"proc_addr,omitempty"`
	MasterNID addr.NID  `json:"master_nid,omitempty"`
	TID      addr.VTID `json:"tid,omitempty"`
	DstNID   addr.NID  `json:"dst_nid,omitempty"`
	SrcNID   addr.NID  `json:"src_nid,omitempty"`
}

// Command names the core consumes and emits.
const (
	CmdActivate    = "activate"
	CmdWarp        = "warp"
	CmdWarpRequest = "warp_request"
	CmdTerminate   = "terminate"
	CmdCreateGUI   = "create_gui"

	CmdSendPacket   = "send_packet"
	CmdCreateVM     = "create_vm"
	CmdRelayCommand = "relay_command"
)

// DecodeCommand parses one control-plane JSON object.
func DecodeCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("warp: decode command: %w", err)
	}
	return c, nil
}

// EncodeCommand serializes a command this core emits (send_packet/
// create_vm/create_gui/relay_command).
func EncodeCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}
