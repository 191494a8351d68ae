// Package admin implements the `/VERB -OBJECT ARG*` admin grammar: a
// plain tokeniser plus a (verb, object) dispatch table, one function
// per command shape, so the command set grows without a chain of
// string conditionals. Admin commands arrive as chat_message content,
// not as their own request type.
package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arisuchan/chatroom/pkg/chaterr"
	"github.com/arisuchan/chatroom/pkg/group"
	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/store"
)

// IsCommand reports whether content looks like an admin command
// (starts with `/`).
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

type key struct {
	verb   string
	object string
}

type commandFunc func(a *Admin, operatorID int64, args []string) (string, error)

var commands = map[key]commandFunc{
	{"add", "-u"}:    cmdAddUser,
	{"del", "-u"}:    cmdDelUser,
	{"del", "-g"}:    cmdDelGroup,
	{"del", "-f"}:    cmdDelFile,
	{"modify", "-u"}: cmdModifyUser,
	{"modify", "-g"}: cmdModifyGroup,
	{"ban", "-u"}:    cmdBanUser,
	{"ban", "-g"}:    cmdBanGroup,
	{"free", "-u"}:   cmdFreeUser,
	{"free", "-g"}:   cmdFreeGroup,
	{"free", "-l"}:   cmdFreeList,
}

type Admin struct {
	Store  *store.Store
	Groups *group.Engine
}

func New(st *store.Store, groups *group.Engine) *Admin {
	return &Admin{Store: st, Groups: groups}
}

// Execute parses and runs an admin command. Authorization (caller must
// be ADMIN_USER_ID) is enforced uniformly here, and every attempt,
// successful or not, is appended to the audit log.
func (a *Admin) Execute(operatorID int64, content string) (string, error) {
	verb, object, args, perr := tokenize(content)

	var (
		result string
		err    error
	)

	if perr != nil {
		err = perr
	} else if operatorID != model.AdminUserID {
		err = chaterr.PermissionDenied("admin commands require the admin user")
	} else {
		fn, ok := commands[key{verb, object}]
		if !ok {
			err = chaterr.InvalidCommand(fmt.Sprintf("unknown admin command: %s %s", verb, object))
		} else {
			result, err = fn(a, operatorID, args)
		}
	}

	outcome := "ok"
	detail := result
	if err != nil {
		outcome = "error"
		detail = err.Error()
	}
	metrics.AdminCommandsTotal.WithLabelValues(verb, outcome).Inc()

	auditErr := a.Store.AppendAudit(model.AuditEntry{
		Time:       time.Now(),
		OperatorID: operatorID,
		Verb:       verb,
		Object:     object,
		Target:     strings.Join(args, " "),
		Outcome:    outcome,
		Detail:     detail,
	})
	if auditErr != nil {
		// audit failure must not mask the underlying result
		_ = auditErr
	}

	return result, err
}

// tokenize splits "/VERB -OBJECT ARG*" into its parts. A leading `/`
// is required; anything else is INVALID_COMMAND.
func tokenize(content string) (verb, object string, args []string, err error) {
	fields := strings.Fields(content)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "/") {
		return "", "", nil, chaterr.InvalidCommand("admin command must be /VERB -OBJECT ARG*")
	}
	verb = strings.TrimPrefix(fields[0], "/")
	object = fields[1]
	if len(fields) > 2 {
		args = fields[2:]
	}
	return verb, object, args, nil
}

func cmdAddUser(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 2 {
		return "", chaterr.InvalidCommand("/add -u requires username password")
	}
	id, err := a.Store.CreateUser(args[0], args[1])
	if err != nil {
		if err == store.ErrUserExists {
			return "", chaterr.UserAlreadyExists(args[0])
		}
		return "", chaterr.StoreFailure("create user failed", err)
	}
	return fmt.Sprintf("created user %s (id=%d)", args[0], id), nil
}

func cmdDelUser(a *Admin, operatorID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/del -u requires user_id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", chaterr.InvalidCommand("user_id must be an integer")
	}
	if id == operatorID {
		return "", chaterr.PermissionDenied("cannot delete self")
	}
	if model.IsReservedUser(id) {
		return "", chaterr.PermissionDenied("cannot delete a reserved user")
	}
	if err := a.Store.DeleteUser(id); err != nil {
		if err == store.ErrReservedID {
			return "", chaterr.PermissionDenied("cannot delete a reserved user")
		}
		return "", chaterr.StoreFailure("delete user failed", err)
	}
	return fmt.Sprintf("deleted user %d", id), nil
}

func cmdDelGroup(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/del -g requires group_id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", chaterr.InvalidCommand("group_id must be an integer")
	}
	g, err := a.Store.GetGroupByID(id)
	if err != nil {
		return "", chaterr.StoreFailure("lookup group failed", err)
	}
	if g == nil {
		return "", chaterr.ChatGroupNotFound("group not found")
	}
	if g.Name == model.PublicGroupName {
		return "", chaterr.PermissionDenied("cannot delete the public group")
	}
	a.Groups.Broadcast(model.Message{
		GroupID:  id,
		SenderID: model.AdminUserID,
		Content:  "this chat has been deleted by an administrator",
		Kind:     model.MessageKindSystem,
	})
	if err := a.Store.DeleteGroup(id); err != nil {
		return "", chaterr.StoreFailure("delete group failed", err)
	}
	return fmt.Sprintf("deleted group %d", id), nil
}

func cmdDelFile(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/del -f requires file_id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", chaterr.InvalidCommand("file_id must be an integer")
	}
	fm, err := a.Store.DeleteFileMetadata(id)
	if err != nil {
		return "", chaterr.StoreFailure("delete file failed", err)
	}
	if fm == nil {
		return "", chaterr.FileNotFound("file not found")
	}
	return fmt.Sprintf("deleted file %d", id), nil
}

func cmdModifyUser(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 3 {
		return "", chaterr.InvalidCommand("/modify -u requires user_id field new_value")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", chaterr.InvalidCommand("user_id must be an integer")
	}
	if model.IsReservedUser(id) {
		return "", chaterr.PermissionDenied("cannot modify a reserved user")
	}
	field, newValue := args[1], args[2]
	switch field {
	case "username":
		if err := a.Store.RenameUser(id, newValue); err != nil {
			if err == store.ErrUserExists {
				return "", chaterr.UserAlreadyExists(newValue)
			}
			return "", chaterr.StoreFailure("rename user failed", err)
		}
	case "password":
		if err := a.Store.SetUserPassword(id, newValue); err != nil {
			return "", chaterr.StoreFailure("set password failed", err)
		}
	default:
		return "", chaterr.InvalidCommand("field must be username or password")
	}
	return fmt.Sprintf("modified user %d field %s", id, field), nil
}

func cmdModifyGroup(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 2 {
		return "", chaterr.InvalidCommand("/modify -g requires group_id new_name")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", chaterr.InvalidCommand("group_id must be an integer")
	}
	if err := a.Store.RenameGroup(id, args[1]); err != nil {
		if err == store.ErrGroupExists {
			return "", chaterr.InvalidCommand("group name already in use")
		}
		return "", chaterr.StoreFailure("rename group failed", err)
	}
	return fmt.Sprintf("renamed group %d to %s", id, args[1]), nil
}

func resolveUserTarget(a *Admin, target string) (*model.User, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return a.Store.GetUserByID(id)
	}
	return a.Store.GetUserByUsername(target)
}

func resolveGroupTarget(a *Admin, target string) (*model.ChatGroup, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return a.Store.GetGroupByID(id)
	}
	return a.Store.GetGroupByName(target)
}

func cmdBanUser(a *Admin, operatorID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/ban -u requires user_id_or_name")
	}
	u, err := resolveUserTarget(a, args[0])
	if err != nil {
		return "", chaterr.StoreFailure("lookup user failed", err)
	}
	if u == nil {
		return "", chaterr.UserNotFound("user not found")
	}
	if u.ID == operatorID {
		return "", chaterr.PermissionDenied("cannot ban self")
	}
	if model.IsReservedUser(u.ID) {
		return "", chaterr.PermissionDenied("cannot ban a reserved user")
	}
	if err := a.Store.SetUserBanned(u.ID, true); err != nil {
		return "", chaterr.StoreFailure("ban user failed", err)
	}
	return fmt.Sprintf("banned user %s", u.Username), nil
}

func cmdBanGroup(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/ban -g requires group_id_or_name")
	}
	g, err := resolveGroupTarget(a, args[0])
	if err != nil {
		return "", chaterr.StoreFailure("lookup group failed", err)
	}
	if g == nil {
		return "", chaterr.ChatGroupNotFound("group not found")
	}
	if g.Name == model.PublicGroupName {
		return "", chaterr.PermissionDenied("cannot ban the public group")
	}
	if err := a.Store.SetGroupBanned(g.ID, true); err != nil {
		return "", chaterr.StoreFailure("ban group failed", err)
	}
	a.Groups.Broadcast(model.Message{
		GroupID:  g.ID,
		SenderID: model.AdminUserID,
		Content:  "this chat has been banned by an administrator",
		Kind:     model.MessageKindSystem,
	})
	return fmt.Sprintf("banned group %s", g.Name), nil
}

func cmdFreeUser(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/free -u requires user_id_or_name")
	}
	u, err := resolveUserTarget(a, args[0])
	if err != nil {
		return "", chaterr.StoreFailure("lookup user failed", err)
	}
	if u == nil {
		return "", chaterr.UserNotFound("user not found")
	}
	if !u.IsBanned {
		return "", chaterr.InvalidCommand("user is not currently banned")
	}
	if err := a.Store.SetUserBanned(u.ID, false); err != nil {
		return "", chaterr.StoreFailure("unban user failed", err)
	}
	return fmt.Sprintf("unbanned user %s", u.Username), nil
}

func cmdFreeGroup(a *Admin, _ int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", chaterr.InvalidCommand("/free -g requires group_id_or_name")
	}
	g, err := resolveGroupTarget(a, args[0])
	if err != nil {
		return "", chaterr.StoreFailure("lookup group failed", err)
	}
	if g == nil {
		return "", chaterr.ChatGroupNotFound("group not found")
	}
	if !g.IsBanned {
		return "", chaterr.InvalidCommand("group is not currently banned")
	}
	if err := a.Store.SetGroupBanned(g.ID, false); err != nil {
		return "", chaterr.StoreFailure("unban group failed", err)
	}
	return fmt.Sprintf("unbanned group %s", g.Name), nil
}

func cmdFreeList(a *Admin, _ int64, _ []string) (string, error) {
	users, err := a.Store.GetBannedUsers()
	if err != nil {
		return "", chaterr.StoreFailure("list banned users failed", err)
	}
	groups, err := a.Store.GetBannedGroups()
	if err != nil {
		return "", chaterr.StoreFailure("list banned groups failed", err)
	}

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	gnames := make([]string, 0, len(groups))
	for _, g := range groups {
		gnames = append(gnames, g.Name)
	}
	return fmt.Sprintf("banned users: [%s]; banned groups: [%s]", strings.Join(names, ", "), strings.Join(gnames, ", ")), nil
}
