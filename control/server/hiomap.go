package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) registerHIOMAP(r *mux.Router) {
	r.HandleFunc("/reset", s.hiomapReset).Methods(http.MethodPost)
	r.HandleFunc("/get_info/{version}", s.hiomapGetInfo).Methods(http.MethodPost)
	r.HandleFunc("/get_flash_info", s.hiomapGetFlashInfo).Methods(http.MethodPost)
	r.HandleFunc("/create_read_window/{offset}/{size}",
		s.hiomapCreateWindow(true)).Methods(http.MethodPost)
	r.HandleFunc("/create_write_window/{offset}/{size}",
		s.hiomapCreateWindow(false)).Methods(http.MethodPost)
	r.HandleFunc("/close_window/{flags}", s.hiomapClose).Methods(http.MethodPost)
	r.HandleFunc("/mark_dirty/{offset}/{size}", s.hiomapMarkDirty).
		Methods(http.MethodPost)
	r.HandleFunc("/erase/{offset}/{size}", s.hiomapErase).Methods(http.MethodPost)
	r.HandleFunc("/flush", s.hiomapFlush).Methods(http.MethodPost)
	r.HandleFunc("/ack/{flags}", s.hiomapAck).Methods(http.MethodPost)
	r.HandleFunc("/properties", s.hiomapProperties).Methods(http.MethodGet)
}

// GetInfoResponse is the answer to a structured GetInfo.
type GetInfoResponse struct {
	Version        uint8  `json:"version"`
	BlockSizeShift uint8  `json:"block_size_shift"`
	Timeout        uint16 `json:"timeout"`
}

// FlashInfoResponse is the answer to a structured GetFlashInfo, in blocks.
type FlashInfoResponse struct {
	FlashSize uint32 `json:"flash_size"`
	EraseSize uint32 `json:"erase_size"`
}

// WindowResponse is the answer to a structured CreateWindow, in blocks.
type WindowResponse struct {
	LPCAddress uint16 `json:"lpc_address"`
	Size       uint16 `json:"size"`
	Offset     uint16 `json:"offset"`
}

func (s *Server) hiomapReset(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().Reset())
	})
}

func (s *Server) hiomapGetInfo(w http.ResponseWriter, r *http.Request) {
	v, err := parseUint(mux.Vars(r), "version", 8)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.run(w, r, func() (any, error) {
		info, err := s.ctrl.HIOMAP().GetInfo(uint8(v))
		if err != nil {
			return nil, err
		}

		return GetInfoResponse{
			Version:        uint8(info.Version),
			BlockSizeShift: info.BlockSizeShift,
			Timeout:        info.Timeout,
		}, nil
	})
}

func (s *Server) hiomapGetFlashInfo(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		info, err := s.ctrl.HIOMAP().GetFlashInfo()
		if err != nil {
			return nil, err
		}

		return FlashInfoResponse{
			FlashSize: info.FlashSize,
			EraseSize: info.EraseSize,
		}, nil
	})
}

func offsetAndSize(r *http.Request) (uint16, uint16, error) {
	vars := mux.Vars(r)

	offset, err := parseUint(vars, "offset", 16)
	if err != nil {
		return 0, 0, err
	}

	size, err := parseUint(vars, "size", 16)
	if err != nil {
		return 0, 0, err
	}

	return uint16(offset), uint16(size), nil
}

func (s *Server) hiomapCreateWindow(readOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, size, err := offsetAndSize(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.run(w, r, func() (any, error) {
			win, err := s.ctrl.HIOMAP().CreateWindow(offset, size, readOnly)
			if err != nil {
				return nil, err
			}

			return WindowResponse{
				LPCAddress: win.LPCAddress,
				Size:       win.Size,
				Offset:     win.Offset,
			}, nil
		})
	}
}

func (s *Server) hiomapClose(w http.ResponseWriter, r *http.Request) {
	flags, err := parseUint(mux.Vars(r), "flags", 8)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().CloseWindow(uint8(flags)))
	})
}

func (s *Server) hiomapMarkDirty(w http.ResponseWriter, r *http.Request) {
	offset, size, err := offsetAndSize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().MarkDirty(offset, size))
	})
}

func (s *Server) hiomapErase(w http.ResponseWriter, r *http.Request) {
	offset, size, err := offsetAndSize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().Erase(offset, size))
	})
}

func (s *Server) hiomapFlush(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().Flush())
	})
}

func (s *Server) hiomapAck(w http.ResponseWriter, r *http.Request) {
	flags, err := parseUint(mux.Vars(r), "flags", 8)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.HIOMAP().Ack(uint8(flags)))
	})
}

func (s *Server) hiomapProperties(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return s.ctrl.HIOMAP().Properties(), nil
	})
}
