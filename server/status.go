package server

import (
	"net"
	"net/http"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

func (s *Server) statusRouter() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ServerInfos())
	})
	r.GET("/servers/:name", func(c *gin.Context) {
		info, ok := s.ServerInfo(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})
	r.GET("/players", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.OnlinePlayers())
	})
	r.GET("/players/:name", func(c *gin.Context) {
		player := c.Param("name")
		server, ok := s.ServerForPlayer(player)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"player": player, "server": server})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Stats())
	})

	return r
}

func (s *Server) startStatus() error {
	l, err := net.Listen("tcp", s.cfg.StatusAddr)
	if err != nil {
		return errors.Wrapf(err, "status listen %v", s.cfg.StatusAddr)
	}

	s.status = &http.Server{Handler: s.statusRouter()}
	nlog.Info("status api on %v", l.Addr())
	go func() {
		if err := s.status.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nlog.Erro("status api: %v", err)
		}
	}()
	return nil
}
