package falcon_pi_player

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/rpcdesc"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

const (
	ServicePackage = "gohome.plugins.falcon_pi_player.v1"
	ServiceName    = "FalconPiPlayerService"
)

// ServiceFullName is the fully qualified gRPC service name.
const ServiceFullName = ServicePackage + "." + ServiceName

type EntryView struct {
	EntryID   string `json:"entry_id"`
	Title     string `json:"title"`
	UniqueID  string `json:"unique_id"`
	Source    string `json:"source"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	URL       string `json:"url"`
	Username  string `json:"username,omitempty"`
	HasSecret bool   `json:"has_password"`
	VerifySSL bool   `json:"verify_ssl"`
}

type ListEntriesResponse struct {
	Entries []EntryView `json:"entries"`
}

type EntryRequest struct {
	EntryID string `json:"entry_id"`
}

type EntryResponse struct {
	Entry EntryView `json:"entry"`
}

type GetStatusResponse struct {
	EntryID           string         `json:"entry_id"`
	LastUpdateSuccess bool           `json:"last_update_success"`
	Status            map[string]any `json:"status,omitempty"`
	Playlists         []string       `json:"playlists"`
	Brightness        int            `json:"brightness_percent"`
}

type ListEntitiesResponse struct {
	Entities []entity.State `json:"entities"`
}

type MediaCommandRequest struct {
	EntryID string         `json:"entry_id"`
	Action  string         `json:"action"`
	Data    map[string]any `json:"data,omitempty"`
}

type LightRequest struct {
	EntryID    string   `json:"entry_id"`
	Brightness *int     `json:"brightness,omitempty"`
	Transition *float64 `json:"transition,omitempty"`
}

type EntityResponse struct {
	Entity entity.State `json:"entity"`
}

type ListDiscoveredResponse struct {
	Discoveries []Discovery `json:"discoveries"`
}

type ConfirmDiscoveredRequest struct {
	UniqueID string `json:"unique_id"`
	Credentials
}

type ReauthRequest struct {
	EntryID string `json:"entry_id"`
	Credentials
}

type service struct {
	manager  *entries.Manager
	entities *entity.Registry
	flow     *ConfigFlow
}

func RegisterFalconPiPlayerService(server grpc.ServiceRegistrar, manager *entries.Manager, entities *entity.Registry, flow *ConfigFlow) {
	rpcdesc.MustRegister(server, newService(manager, entities, flow).descriptor())
}

func newService(manager *entries.Manager, entities *entity.Registry, flow *ConfigFlow) *service {
	return &service{manager: manager, entities: entities, flow: flow}
}

func (s *service) descriptor() rpcdesc.Service {
	return rpcdesc.Service{
		Package: ServicePackage,
		Name:    ServiceName,
		Methods: []rpcdesc.Method{
			{Name: "ListEntries", Handler: rpcdesc.Typed(s.ListEntries)},
			{Name: "GetStatus", Handler: rpcdesc.Typed(s.GetStatus)},
			{Name: "ListEntities", Handler: rpcdesc.Typed(s.ListEntities)},
			{Name: "MediaCommand", Handler: rpcdesc.Typed(s.MediaCommand)},
			{Name: "LightTurnOn", Handler: rpcdesc.Typed(s.LightTurnOn)},
			{Name: "LightTurnOff", Handler: rpcdesc.Typed(s.LightTurnOff)},
			{Name: "ConfigFlowUser", Handler: rpcdesc.Typed(s.ConfigFlowUser)},
			{Name: "ListDiscovered", Handler: rpcdesc.Typed(s.ListDiscovered)},
			{Name: "ConfirmDiscovered", Handler: rpcdesc.Typed(s.ConfirmDiscovered)},
			{Name: "Reauth", Handler: rpcdesc.Typed(s.Reauth)},
			{Name: "RemoveEntry", Handler: rpcdesc.Typed(s.RemoveEntry)},
			{Name: "ReloadEntry", Handler: rpcdesc.Typed(s.ReloadEntry)},
		},
	}
}

func toEntryView(entry entries.Entry) EntryView {
	return EntryView{
		EntryID:   entry.ID,
		Title:     entry.Title,
		UniqueID:  entry.UniqueID,
		Source:    string(entry.Source),
		State:     string(entry.State),
		Reason:    entry.Reason,
		URL:       entry.Data.URL,
		Username:  entry.Data.Username,
		HasSecret: entry.Data.Password != "",
		VerifySSL: entry.Data.VerifySSL,
	}
}

func (s *service) ListEntries(ctx context.Context, _ struct{}) (ListEntriesResponse, error) {
	all, err := s.manager.ListDomain(ctx, PluginID)
	if err != nil {
		return ListEntriesResponse{}, status.Errorf(codes.Internal, "list entries: %v", err)
	}
	resp := ListEntriesResponse{Entries: make([]EntryView, 0, len(all))}
	for _, entry := range all {
		resp.Entries = append(resp.Entries, toEntryView(entry))
	}
	return resp, nil
}

func (s *service) runtime(ctx context.Context, entryID string) (*Runtime, error) {
	if entryID == "" {
		return nil, status.Error(codes.InvalidArgument, "entry_id is required")
	}
	entry, err := s.manager.Get(ctx, entryID)
	if errors.Is(err, entries.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "entry %s not found", entryID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get entry: %v", err)
	}
	rt, ok := s.manager.Runtime(entryID)
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "entry %s is %s", entryID, entry.State)
	}
	fpp, ok := rt.(*Runtime)
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "entry %s is not an fpp entry", entryID)
	}
	return fpp, nil
}

func (s *service) GetStatus(ctx context.Context, req EntryRequest) (GetStatusResponse, error) {
	rt, err := s.runtime(ctx, req.EntryID)
	if err != nil {
		return GetStatusResponse{}, err
	}
	snapshot, ok := rt.Status()
	brightness, _ := rt.Brightness()
	return GetStatusResponse{
		EntryID:           req.EntryID,
		LastUpdateSuccess: ok,
		Status:            snapshot,
		Playlists:         rt.Playlists(),
		Brightness:        brightness,
	}, nil
}

func (s *service) ListEntities(ctx context.Context, _ struct{}) (ListEntitiesResponse, error) {
	all, err := s.manager.ListDomain(ctx, PluginID)
	if err != nil {
		return ListEntitiesResponse{}, status.Errorf(codes.Internal, "list entries: %v", err)
	}
	ids := make(map[string]bool, len(all))
	for _, entry := range all {
		ids[entry.ID] = true
	}
	resp := ListEntitiesResponse{Entities: []entity.State{}}
	for _, state := range s.entities.List() {
		if ids[state.EntryID] {
			resp.Entities = append(resp.Entities, state)
		}
	}
	return resp, nil
}

func (s *service) call(ctx context.Context, entityID string, cmd entity.Command) (EntityResponse, error) {
	cmd.EntityID = entityID
	if err := s.entities.Call(ctx, cmd); err != nil {
		return EntityResponse{}, commandError(err)
	}
	state, _ := s.entities.Get(entityID)
	return EntityResponse{Entity: state}, nil
}

func (s *service) MediaCommand(ctx context.Context, req MediaCommandRequest) (EntityResponse, error) {
	if req.Action == "" {
		return EntityResponse{}, status.Error(codes.InvalidArgument, "action is required")
	}
	rt, err := s.runtime(ctx, req.EntryID)
	if err != nil {
		return EntityResponse{}, err
	}
	return s.call(ctx, rt.MediaPlayer().EntityID(), entity.Command{Action: req.Action, Data: req.Data})
}

func (s *service) LightTurnOn(ctx context.Context, req LightRequest) (EntityResponse, error) {
	return s.light(ctx, "turn_on", req)
}

func (s *service) LightTurnOff(ctx context.Context, req LightRequest) (EntityResponse, error) {
	req.Brightness = nil
	return s.light(ctx, "turn_off", req)
}

func (s *service) light(ctx context.Context, action string, req LightRequest) (EntityResponse, error) {
	rt, err := s.runtime(ctx, req.EntryID)
	if err != nil {
		return EntityResponse{}, err
	}
	data := map[string]any{}
	if req.Brightness != nil {
		data["brightness"] = *req.Brightness
	}
	if req.Transition != nil {
		data["transition"] = *req.Transition
	}
	return s.call(ctx, rt.Light().EntityID(), entity.Command{Action: action, Data: data})
}

func (s *service) ConfigFlowUser(ctx context.Context, req UserInput) (EntryResponse, error) {
	if req.URL == "" {
		return EntryResponse{}, status.Error(codes.InvalidArgument, "url is required")
	}
	entry, err := s.flow.User(ctx, req)
	if err != nil {
		return EntryResponse{}, flowStatus(err)
	}
	return EntryResponse{Entry: toEntryView(entry)}, nil
}

func (s *service) ListDiscovered(context.Context, struct{}) (ListDiscoveredResponse, error) {
	return ListDiscoveredResponse{Discoveries: s.flow.ListDiscovered()}, nil
}

func (s *service) ConfirmDiscovered(ctx context.Context, req ConfirmDiscoveredRequest) (EntryResponse, error) {
	if req.UniqueID == "" {
		return EntryResponse{}, status.Error(codes.InvalidArgument, "unique_id is required")
	}
	entry, err := s.flow.ConfirmDiscovered(ctx, req.UniqueID, req.Credentials)
	if err != nil {
		return EntryResponse{}, flowStatus(err)
	}
	return EntryResponse{Entry: toEntryView(entry)}, nil
}

func (s *service) Reauth(ctx context.Context, req ReauthRequest) (EntryResponse, error) {
	if req.EntryID == "" {
		return EntryResponse{}, status.Error(codes.InvalidArgument, "entry_id is required")
	}
	entry, err := s.flow.Reauth(ctx, req.EntryID, req.Credentials)
	if err != nil {
		return EntryResponse{}, flowStatus(err)
	}
	return EntryResponse{Entry: toEntryView(entry)}, nil
}

func (s *service) RemoveEntry(ctx context.Context, req EntryRequest) (struct{}, error) {
	if _, err := s.manager.Get(ctx, req.EntryID); err != nil {
		return struct{}{}, entryStatus(req.EntryID, err)
	}
	if err := s.manager.Remove(ctx, req.EntryID); err != nil {
		return struct{}{}, status.Errorf(codes.Internal, "remove entry: %v", err)
	}
	return struct{}{}, nil
}

func (s *service) ReloadEntry(ctx context.Context, req EntryRequest) (EntryResponse, error) {
	if _, err := s.manager.Get(ctx, req.EntryID); err != nil {
		return EntryResponse{}, entryStatus(req.EntryID, err)
	}
	// Setup failures land in the entry state.
	_ = s.manager.Reload(ctx, req.EntryID)
	entry, err := s.manager.Get(ctx, req.EntryID)
	if err != nil {
		return EntryResponse{}, entryStatus(req.EntryID, err)
	}
	return EntryResponse{Entry: toEntryView(entry)}, nil
}

func entryStatus(id string, err error) error {
	if errors.Is(err, entries.ErrNotFound) {
		return status.Errorf(codes.NotFound, "entry %s not found", id)
	}
	return status.Errorf(codes.Internal, "get entry: %v", err)
}

func flowStatus(err error) error {
	switch ReasonOf(err) {
	case ReasonInvalidAuth:
		return status.Error(codes.Unauthenticated, err.Error())
	case ReasonCannotConnect:
		return status.Error(codes.Unavailable, err.Error())
	case ReasonAlreadyConfigured:
		return status.Error(codes.AlreadyExists, err.Error())
	case ReasonNotFound:
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// commandError maps device error kinds to gRPC codes.
func commandError(err error) error {
	switch {
	case errors.Is(err, entity.ErrUnknownEntity):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrUnsupportedAction), errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	switch fppclient.KindOf(err) {
	case fppclient.ErrAuthentication:
		return status.Error(codes.Unauthenticated, err.Error())
	case fppclient.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case fppclient.ErrConnection:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
