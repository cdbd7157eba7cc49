package onebot

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Bot is one connected peer identity. All API methods are thin typed
// wrappers over CallAPI and are safe for concurrent use.
type Bot struct {
	conn   *conn
	client *Client

	mu     sync.RWMutex
	selfID int64
}

// SelfID returns the bot's own account id, or zero while it is still
// unresolved.
func (b *Bot) SelfID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

// adoptSelfID records the id carried by inbound events the first time
// it is seen and indexes the bot in the client registry.
func (b *Bot) adoptSelfID(id int64) {
	b.mu.Lock()
	if b.selfID != 0 || id == 0 {
		b.mu.Unlock()
		return
	}
	b.selfID = id
	b.mu.Unlock()

	b.client.indexBot(b)
}

// State returns the lifecycle state of the bot's connection.
func (b *Bot) State() ConnState {
	return b.conn.State()
}

// Done is closed when the bot's connection terminally closes.
func (b *Bot) Done() <-chan struct{} {
	return b.conn.Done()
}

// Close terminally closes the bot's connection. Outstanding calls
// resolve with ErrConnectionLost.
func (b *Bot) Close() {
	b.conn.closeTerminal(nil)
}

// CallAPI is the invoke primitive every wrapper funnels through. It
// returns the response data payload, or a RemoteError when the peer
// rejected the call, ErrTimeout when no response arrived in time, or
// ErrConnectionLost when the connection went away.
func (b *Bot) CallAPI(ctx context.Context, action string, params any) (json.RawMessage, error) {
	return b.conn.Invoke(ctx, action, params)
}

func (b *Bot) callInto(ctx context.Context, action string, params any, out any) error {
	data, err := b.CallAPI(ctx, action, params)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// --- Messages ---

type messageIDData struct {
	MessageID int64 `json:"message_id"`
}

// SendPrivateMsg sends a private message and returns its message id.
func (b *Bot) SendPrivateMsg(ctx context.Context, userID int64, msg Message) (int64, error) {
	params := struct {
		UserID  int64   `json:"user_id"`
		Message Message `json:"message"`
	}{userID, msg}

	var data messageIDData
	if err := b.callInto(ctx, "send_private_msg", params, &data); err != nil {
		return 0, err
	}
	return data.MessageID, nil
}

// SendGroupMsg sends a group message and returns its message id.
func (b *Bot) SendGroupMsg(ctx context.Context, groupID int64, msg Message) (int64, error) {
	params := struct {
		GroupID int64   `json:"group_id"`
		Message Message `json:"message"`
	}{groupID, msg}

	var data messageIDData
	if err := b.callInto(ctx, "send_group_msg", params, &data); err != nil {
		return 0, err
	}
	return data.MessageID, nil
}

// Reply answers a message event in the channel it arrived on.
func (b *Bot) Reply(ctx context.Context, event *MessageEvent, msg Message) (int64, error) {
	if event.IsGroup() {
		return b.SendGroupMsg(ctx, event.GroupID, msg)
	}
	return b.SendPrivateMsg(ctx, event.UserID, msg)
}

// DeleteMsg recalls a previously sent message.
func (b *Bot) DeleteMsg(ctx context.Context, messageID int64) error {
	params := struct {
		MessageID int64 `json:"message_id"`
	}{messageID}
	return b.callInto(ctx, "delete_msg", params, nil)
}

// GetMsg fetches a message by id.
func (b *Bot) GetMsg(ctx context.Context, messageID int64) (json.RawMessage, error) {
	params := struct {
		MessageID int64 `json:"message_id"`
	}{messageID}
	return b.CallAPI(ctx, "get_msg", params)
}

// SendLike sends profile likes to a user.
func (b *Bot) SendLike(ctx context.Context, userID int64, times int) error {
	params := struct {
		UserID int64 `json:"user_id"`
		Times  int   `json:"times"`
	}{userID, times}
	return b.callInto(ctx, "send_like", params, nil)
}

// --- Group management ---

// SetGroupKick removes a member from a group.
func (b *Bot) SetGroupKick(ctx context.Context, groupID, userID int64, rejectAddRequest bool) error {
	params := struct {
		GroupID          int64 `json:"group_id"`
		UserID           int64 `json:"user_id"`
		RejectAddRequest bool  `json:"reject_add_request"`
	}{groupID, userID, rejectAddRequest}
	return b.callInto(ctx, "set_group_kick", params, nil)
}

// SetGroupBan mutes a member. A zero duration lifts the mute.
func (b *Bot) SetGroupBan(ctx context.Context, groupID, userID int64, duration time.Duration) error {
	params := struct {
		GroupID  int64 `json:"group_id"`
		UserID   int64 `json:"user_id"`
		Duration int64 `json:"duration"`
	}{groupID, userID, int64(duration.Seconds())}
	return b.callInto(ctx, "set_group_ban", params, nil)
}

// SetGroupWholeBan mutes or unmutes the entire group.
func (b *Bot) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error {
	params := struct {
		GroupID int64 `json:"group_id"`
		Enable  bool  `json:"enable"`
	}{groupID, enable}
	return b.callInto(ctx, "set_group_whole_ban", params, nil)
}

// SetGroupAdmin grants or revokes group administrator.
func (b *Bot) SetGroupAdmin(ctx context.Context, groupID, userID int64, enable bool) error {
	params := struct {
		GroupID int64 `json:"group_id"`
		UserID  int64 `json:"user_id"`
		Enable  bool  `json:"enable"`
	}{groupID, userID, enable}
	return b.callInto(ctx, "set_group_admin", params, nil)
}

// SetGroupCard sets a member's group display name.
func (b *Bot) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	params := struct {
		GroupID int64  `json:"group_id"`
		UserID  int64  `json:"user_id"`
		Card    string `json:"card"`
	}{groupID, userID, card}
	return b.callInto(ctx, "set_group_card", params, nil)
}

// SetGroupName renames a group.
func (b *Bot) SetGroupName(ctx context.Context, groupID int64, name string) error {
	params := struct {
		GroupID   int64  `json:"group_id"`
		GroupName string `json:"group_name"`
	}{groupID, name}
	return b.callInto(ctx, "set_group_name", params, nil)
}

// SetGroupLeave leaves a group, dismissing it when the bot owns it and
// isDismiss is set.
func (b *Bot) SetGroupLeave(ctx context.Context, groupID int64, isDismiss bool) error {
	params := struct {
		GroupID   int64 `json:"group_id"`
		IsDismiss bool  `json:"is_dismiss"`
	}{groupID, isDismiss}
	return b.callInto(ctx, "set_group_leave", params, nil)
}

// --- Requests ---

// SetFriendAddRequest answers a friend request by its flag token.
func (b *Bot) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error {
	params := struct {
		Flag    string `json:"flag"`
		Approve bool   `json:"approve"`
		Remark  string `json:"remark"`
	}{flag, approve, remark}
	return b.callInto(ctx, "set_friend_add_request", params, nil)
}

// SetGroupAddRequest answers a group join or invite request by its
// flag token.
func (b *Bot) SetGroupAddRequest(ctx context.Context, flag, subType string, approve bool, reason string) error {
	params := struct {
		Flag    string `json:"flag"`
		SubType string `json:"sub_type"`
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}{flag, subType, approve, reason}
	return b.callInto(ctx, "set_group_add_request", params, nil)
}

// ApproveRequest accepts a request event using its flag token.
func (b *Bot) ApproveRequest(ctx context.Context, event *RequestEvent, remark string) error {
	if event.RequestType == "group" {
		return b.SetGroupAddRequest(ctx, event.Flag, event.SubType, true, remark)
	}
	return b.SetFriendAddRequest(ctx, event.Flag, true, remark)
}

// RejectRequest declines a request event using its flag token.
func (b *Bot) RejectRequest(ctx context.Context, event *RequestEvent, remark string) error {
	if event.RequestType == "group" {
		return b.SetGroupAddRequest(ctx, event.Flag, event.SubType, false, remark)
	}
	return b.SetFriendAddRequest(ctx, event.Flag, false, remark)
}

// --- Information ---

// LoginInfo identifies the bot's own account.
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GetLoginInfo fetches the bot's own account info and records the id.
func (b *Bot) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	var info LoginInfo
	if err := b.callInto(ctx, "get_login_info", nil, &info); err != nil {
		return nil, err
	}
	b.adoptSelfID(info.UserID)
	return &info, nil
}

// StrangerInfo describes an account outside the friend list.
type StrangerInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Sex      string `json:"sex,omitempty"`
	Age      int    `json:"age,omitempty"`
}

// GetStrangerInfo fetches info on an arbitrary account.
func (b *Bot) GetStrangerInfo(ctx context.Context, userID int64, noCache bool) (*StrangerInfo, error) {
	params := struct {
		UserID  int64 `json:"user_id"`
		NoCache bool  `json:"no_cache"`
	}{userID, noCache}

	var info StrangerInfo
	if err := b.callInto(ctx, "get_stranger_info", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Friend is one friend list entry.
type Friend struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark,omitempty"`
}

// GetFriendList fetches the bot's friend list.
func (b *Bot) GetFriendList(ctx context.Context) ([]Friend, error) {
	var friends []Friend
	if err := b.callInto(ctx, "get_friend_list", nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// GroupInfo describes one group.
type GroupInfo struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count,omitempty"`
	MaxMemberCount int    `json:"max_member_count,omitempty"`
}

// GetGroupInfo fetches info on one group.
func (b *Bot) GetGroupInfo(ctx context.Context, groupID int64, noCache bool) (*GroupInfo, error) {
	params := struct {
		GroupID int64 `json:"group_id"`
		NoCache bool  `json:"no_cache"`
	}{groupID, noCache}

	var info GroupInfo
	if err := b.callInto(ctx, "get_group_info", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetGroupList fetches all groups the bot is in.
func (b *Bot) GetGroupList(ctx context.Context) ([]GroupInfo, error) {
	var groups []GroupInfo
	if err := b.callInto(ctx, "get_group_list", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GroupMember describes one group member.
type GroupMember struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// GetGroupMemberInfo fetches one group member.
func (b *Bot) GetGroupMemberInfo(ctx context.Context, groupID, userID int64, noCache bool) (*GroupMember, error) {
	params := struct {
		GroupID int64 `json:"group_id"`
		UserID  int64 `json:"user_id"`
		NoCache bool  `json:"no_cache"`
	}{groupID, userID, noCache}

	var member GroupMember
	if err := b.callInto(ctx, "get_group_member_info", params, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// GetGroupMemberList fetches all members of a group.
func (b *Bot) GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMember, error) {
	params := struct {
		GroupID int64 `json:"group_id"`
	}{groupID}

	var members []GroupMember
	if err := b.callInto(ctx, "get_group_member_list", params, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GetStatus fetches the peer's own health report.
func (b *Bot) GetStatus(ctx context.Context) (*HeartbeatStatus, error) {
	var status HeartbeatStatus
	if err := b.callInto(ctx, "get_status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// VersionInfo identifies the peer implementation.
type VersionInfo struct {
	AppName         string `json:"app_name"`
	AppVersion      string `json:"app_version"`
	ProtocolVersion string `json:"protocol_version"`
}

// GetVersionInfo fetches the peer implementation's identity.
func (b *Bot) GetVersionInfo(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := b.callInto(ctx, "get_version_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type yesNoData struct {
	Yes bool `json:"yes"`
}

// CanSendImage reports whether the peer can send images.
func (b *Bot) CanSendImage(ctx context.Context) (bool, error) {
	var data yesNoData
	if err := b.callInto(ctx, "can_send_image", nil, &data); err != nil {
		return false, err
	}
	return data.Yes, nil
}

// CanSendRecord reports whether the peer can send voice messages.
func (b *Bot) CanSendRecord(ctx context.Context) (bool, error) {
	var data yesNoData
	if err := b.callInto(ctx, "can_send_record", nil, &data); err != nil {
		return false, err
	}
	return data.Yes, nil
}

// SetRestart asks the peer to restart after the given delay.
func (b *Bot) SetRestart(ctx context.Context, delay time.Duration) error {
	params := struct {
		Delay int64 `json:"delay"`
	}{delay.Milliseconds()}
	return b.callInto(ctx, "set_restart", params, nil)
}

// CleanCache asks the peer to clear its data caches.
func (b *Bot) CleanCache(ctx context.Context) error {
	return b.callInto(ctx, "clean_cache", nil, nil)
}
