package telemetry

import (
	"encoding/json"
	"io"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// wireTopology is the SDN controller's JSON shape for its topology
// endpoint: a flat list of routes, each carrying its candidate paths.
type wireTopology struct {
	Routes []wireRoute `json:"routes"`
}

type wireRoute struct {
	Src   string     `json:"src"`
	Dst   string     `json:"dst"`
	Paths []wirePath `json:"paths"`
}

type wirePath struct {
	Via  string    `json:"via_spine"`
	Hops []wireHop `json:"hops"`
}

type wireHop struct {
	DeviceID string `json:"device_id"`
	Port     int    `json:"port"`
}

func decodeTopology(r io.Reader) (domain.Topology, error) {
	var wire wireTopology
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return domain.Topology{}, err
	}
	topo := domain.Topology{Routes: make(map[domain.Route][]domain.Path, len(wire.Routes))}
	for _, wr := range wire.Routes {
		route := domain.Route{Src: wr.Src, Dst: wr.Dst}
		paths := make([]domain.Path, 0, len(wr.Paths))
		for _, wp := range wr.Paths {
			hops := make([]domain.Hop, 0, len(wp.Hops))
			for _, wh := range wp.Hops {
				hops = append(hops, domain.Hop{DeviceID: wh.DeviceID, Port: wh.Port})
			}
			paths = append(paths, domain.Path{Via: wp.Via, Hops: hops})
		}
		topo.Routes[route] = paths
	}
	return topo, nil
}
